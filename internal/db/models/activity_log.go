// Package models - activity_log.go defines the ActivityLog model for the
// activity_logs table: who did what to which entity, with a free-form JSON
// details payload. id and created_at are filled in by the database.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Synthetic record written to confirm the table accepts inserts
const (
	TestUsername   = "sistema_teste"
	TestAction     = "TEST"
	TestEntityType = "SYSTEM"
	TestMessage    = "activity_logs table provisioning test"
)

// ActivityLog represents one row of activity_logs
type ActivityLog struct {
	ID         string     `db:"id" json:"id,omitempty"`
	UserID     *string    `db:"user_id" json:"user_id,omitempty"` // Nullable for system actions
	Username   string     `db:"username" json:"username"`
	Action     string     `db:"action" json:"action"`           // CREATE, UPDATE, DELETE, VIEW, TEST
	EntityType string     `db:"entity_type" json:"entity_type"` // MEMBER, VEHICLE, EVENT, SYSTEM
	EntityID   *string    `db:"entity_id" json:"entity_id,omitempty"`
	Details    Details    `db:"details" json:"details"`
	IPAddress  *string    `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt  *time.Time `db:"created_at" json:"created_at,omitempty"`
}

// Normalize upper-cases the action and entity labels and makes sure details
// serialises as an object rather than null.
func (a *ActivityLog) Normalize() {
	a.Action = strings.ToUpper(strings.TrimSpace(a.Action))
	a.EntityType = strings.ToUpper(strings.TrimSpace(a.EntityType))
	if a.Details == nil {
		a.Details = Details{}
	}
}

// NewTestRecord builds the synthetic record inserted after provisioning.
// runID ties the remote row back to the local run report.
func NewTestRecord(runID string) *ActivityLog {
	return &ActivityLog{
		Username:   TestUsername,
		Action:     TestAction,
		EntityType: TestEntityType,
		Details: Details{
			"message": TestMessage,
			"run_id":  runID,
		},
	}
}

// Details is the JSONB details column
type Details map[string]interface{}

// Value implements driver.Valuer
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *Details) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("models: cannot scan %T into Details", src)
	}
	if len(data) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(data, d)
}

// ActivityFilters narrows an activity log listing. Zero values are ignored.
type ActivityFilters struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}

// DefaultActivityLimit applies when a listing asks for no limit
const DefaultActivityLimit = 50

// EffectiveLimit returns Limit, or DefaultActivityLimit when unset
func (f ActivityFilters) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultActivityLimit
	}
	return f.Limit
}

// Query renders the filters as REST gateway query parameters, newest first.
func (f ActivityFilters) Query() url.Values {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")
	if f.UserID != "" {
		q.Set("user_id", "eq."+f.UserID)
	}
	if f.Action != "" {
		q.Set("action", "eq."+strings.ToUpper(f.Action))
	}
	if f.EntityType != "" {
		q.Set("entity_type", "eq."+strings.ToUpper(f.EntityType))
	}
	if f.EntityID != "" {
		q.Set("entity_id", "eq."+f.EntityID)
	}
	// Both bounds on the same column need repeated keys.
	if f.FromDate != nil {
		q.Add("created_at", "gte."+f.FromDate.UTC().Format(time.RFC3339))
	}
	if f.ToDate != nil {
		q.Add("created_at", "lte."+f.ToDate.UTC().Format(time.RFC3339))
	}
	q.Set("limit", strconv.Itoa(f.EffectiveLimit()))
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}
