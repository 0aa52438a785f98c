package platform

import "strings"

var sqlLineReplacer = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
	`"`, `\"`,
)

// SanitizeSQL collapses statement onto one line and backslash-escapes every
// double quote. The result contains no newline and no bare '"'.
//
// This is string replacement, not SQL quoting: it does nothing for
// backslashes or other characters, and a quote that was already escaped in
// the input is escaped again.
func SanitizeSQL(statement string) string {
	return sqlLineReplacer.Replace(statement)
}
