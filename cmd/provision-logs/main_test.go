package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garage-club/activity-logs/internal/config"
	"github.com/garage-club/activity-logs/internal/platform"
	"github.com/garage-club/activity-logs/internal/schemafile"
)

const tableSQL = `CREATE TABLE IF NOT EXISTS public.activity_logs (
  id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  username text NOT NULL
);`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.KeyPlatformURL, config.KeyServiceRoleKey, config.KeyAnonKey, config.KeyHTTPTimeout,
		config.KeySQLFile, config.KeySQLSHA256, config.KeySchema, config.KeyTable,
		config.KeySQLMode, config.KeyRPCFunction, config.KeyDatabaseURL,
		config.KeyLogLevel, config.KeyLogFormat,
		config.KeyReportFile, config.KeyReportWebhookURL, config.KeyReportWebhookTimeout,
		config.KeyPushgatewayURL, config.KeyMetricsJob, "ENV_FILE",
	} {
		t.Setenv(k, "")
	}
}

// workspace writes the SQL file and an env file holding lines, and returns
// the env file path.
func workspace(t *testing.T, lines ...string) string {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	sqlPath := filepath.Join(dir, "create.sql")
	require.NoError(t, os.WriteFile(sqlPath, []byte(tableSQL), 0o600))

	content := fmt.Sprintf("%s=%s\n%s\n", config.KeySQLFile, sqlPath, strings.Join(lines, "\n"))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))
	return envPath
}

// gatewayServer answers like a healthy REST gateway and counts requests
func gatewayServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == platform.SQLPath:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == platform.TablesPath:
			w.Write([]byte(`[{"table_name":"activity_logs"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/activity_logs":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/activity_logs":
			w.Write([]byte(`[{"id":"a1","username":"ana","action":"CREATE","entity_type":"MEMBER","entity_id":"m-7","details":{"name":"Ana"},"created_at":"2026-10-01T10:00:00Z"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out, io.Discard))
	assert.Equal(t, "provision-logs v"+version+"\n", out.String())
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"migrate"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: migrate")
}

func TestRun_MissingKeyAbortsBeforeNetwork(t *testing.T) {
	var hits int32
	srv := gatewayServer(t, &hits)
	env := workspace(t, config.KeyPlatformURL+"="+srv.URL)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-env", env}, &out, io.Discard)

	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingRequired)
	assert.Contains(t, out.String(), "❌ Environment variables SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not found")
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestRun_MissingEnvFile(t *testing.T) {
	clearEnv(t)
	err := run(context.Background(), []string{"run", "-env", filepath.Join(t.TempDir(), "absent.env")}, io.Discard, io.Discard)
	require.Error(t, err)
}

func TestRun_ChecksumMismatchAbortsBeforeNetwork(t *testing.T) {
	var hits int32
	srv := gatewayServer(t, &hits)
	env := workspace(t,
		config.KeyPlatformURL+"="+srv.URL,
		config.KeyServiceRoleKey+"=service-key",
		config.KeySQLSHA256+"="+strings.Repeat("0", 64),
	)

	err := run(context.Background(), []string{"-env", env}, io.Discard, io.Discard)

	require.Error(t, err)
	assert.ErrorIs(t, err, schemafile.ErrChecksumMismatch)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestRun_FullProvisioning(t *testing.T) {
	var hits int32
	srv := gatewayServer(t, &hits)
	report := filepath.Join(t.TempDir(), "report.jsonl")
	env := workspace(t,
		"# credentials",
		config.KeyPlatformURL+"="+srv.URL,
		config.KeyServiceRoleKey+"=service-key",
		config.KeyReportFile+"="+report,
	)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-env", env}, &out, io.Discard))

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "✅ Environment loaded: URL="+srv.URL+"\n"), got)
	assert.Contains(t, got, "✅ Table created successfully! Status code: 200")
	assert.Contains(t, got, "✅ Table activity_logs found:")
	assert.Contains(t, got, "✅ Test record inserted successfully!")
	assert.True(t, strings.HasSuffix(got, "✨ Process finished\n"))
	assert.Equal(t, 4, strings.Count(got, "✅"))
	assert.NotContains(t, got, "❌")
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(data, []byte("\n")))
}

func TestRun_FailedStepsStillExitZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"permission denied"}`))
	}))
	defer srv.Close()
	env := workspace(t, config.KeyPlatformURL+"="+srv.URL, config.KeyServiceRoleKey+"=service-key")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"run", "-env", env}, &out, io.Discard))

	assert.Equal(t, 3, strings.Count(out.String(), "Status code: 403"))
	assert.Contains(t, out.String(), "✨ Process finished")
}

func TestRun_SingleStep(t *testing.T) {
	var hits int32
	srv := gatewayServer(t, &hits)
	env := workspace(t, config.KeyPlatformURL+"="+srv.URL, config.KeyServiceRoleKey+"=service-key")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"verify", "-env", env}, &out, io.Discard))

	assert.Contains(t, out.String(), "✅ Table activity_logs found:")
	assert.NotContains(t, out.String(), "Sending SQL")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestRun_CommandAfterFlagsIsRejected(t *testing.T) {
	var hits int32
	srv := gatewayServer(t, &hits)
	env := workspace(t, config.KeyPlatformURL+"="+srv.URL, config.KeyServiceRoleKey+"=service-key")

	var out bytes.Buffer
	err := run(context.Background(), []string{"-env", env, "verify"}, &out, io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unexpected argument "verify"`)
	assert.Empty(t, out.String())
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestRun_Logs(t *testing.T) {
	var hits int32
	srv := gatewayServer(t, &hits)
	env := workspace(t, config.KeyPlatformURL+"="+srv.URL, config.KeyServiceRoleKey+"=service-key")

	var out bytes.Buffer
	err := run(context.Background(), []string{"logs", "-env", env, "-action", "create", "-from", "2026-10-01"}, &out, io.Discard)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "CREATED_AT")
	assert.Contains(t, out.String(), "ana")
	assert.Contains(t, out.String(), "m-7")
	assert.Contains(t, out.String(), "1 activity log(s)")
}

func TestRun_LogsQueryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	env := workspace(t, config.KeyPlatformURL+"="+srv.URL, config.KeyServiceRoleKey+"=service-key")

	err := run(context.Background(), []string{"logs", "-env", env}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Equal(t, 500, platform.StatusOf(err))
}

func TestParseTimeFlag(t *testing.T) {
	tests := []struct {
		value   string
		wantNil bool
		wantErr bool
	}{
		{"", true, false},
		{"2026-10-01", false, false},
		{"2026-10-01T10:00:00Z", false, false},
		{"yesterday", true, true},
	}
	for _, tt := range tests {
		got, err := parseTimeFlag("from", tt.value)
		if tt.wantErr {
			assert.Error(t, err, tt.value)
		} else {
			assert.NoError(t, err, tt.value)
		}
		assert.Equal(t, tt.wantNil, got == nil, tt.value)
	}
}
