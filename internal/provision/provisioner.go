// Package provision runs the activity_logs provisioning steps: create the
// table from the SQL file, confirm it is visible through schema
// introspection, and insert one synthetic row. Each step prints a status
// line for the operator, and a failed step never stops the next one.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/garage-club/activity-logs/internal/audit"
	"github.com/garage-club/activity-logs/internal/db/models"
	"github.com/garage-club/activity-logs/internal/platform"
	"github.com/garage-club/activity-logs/internal/schemafile"
	"github.com/garage-club/activity-logs/internal/telemetry"
)

// Step names, used in metrics labels and report entries
const (
	StepCreate = "create"
	StepVerify = "verify"
	StepSeed   = "seed"
)

// ErrTableNotFound is recorded when introspection succeeds but returns no rows
var ErrTableNotFound = errors.New("table not found")

// Gateway is the backend the steps run against. The REST client and the
// direct database gateway both satisfy it; the direct one reports status 0.
type Gateway interface {
	ExecSQL(ctx context.Context, statement string) (int, error)
	FindTables(ctx context.Context, schema, table string) (int, []models.TableRef, error)
	Insert(ctx context.Context, table string, record *models.ActivityLog) (int, error)
}

// StepResult is the outcome of one step
type StepResult struct {
	Step       string
	Success    bool
	StatusCode int
	// Body is the gateway's response text for non-2xx answers
	Body     string
	Err      error
	Duration time.Duration
}

// Provisioner runs the steps against one target table
type Provisioner struct {
	gateway Gateway
	sql     *schemafile.File
	out     io.Writer
	shipper audit.Shipper
	runID   string
	mode    string
	schema  string
	table   string
}

// Option configures a Provisioner
type Option func(*Provisioner)

// WithOutput sets where status lines are printed (default os.Stdout)
func WithOutput(w io.Writer) Option {
	return func(p *Provisioner) { p.out = w }
}

// WithShipper sets where per-step report entries are sent
func WithShipper(s audit.Shipper) Option {
	return func(p *Provisioner) { p.shipper = s }
}

// WithTarget overrides the default public.activity_logs target
func WithTarget(schema, table string) Option {
	return func(p *Provisioner) {
		p.schema = schema
		p.table = table
	}
}

// WithMode records how SQL reaches the database, for the report only
func WithMode(mode string) Option {
	return func(p *Provisioner) { p.mode = mode }
}

// WithRunID fixes the run id instead of generating one
func WithRunID(id string) Option {
	return func(p *Provisioner) { p.runID = id }
}

// New creates a Provisioner. sql may be nil when only VerifyTable or
// InsertTestRecord will be called.
func New(gateway Gateway, sql *schemafile.File, opts ...Option) *Provisioner {
	p := &Provisioner{
		gateway: gateway,
		sql:     sql,
		out:     os.Stdout,
		runID:   uuid.New().String(),
		schema:  "public",
		table:   "activity_logs",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID returns the id stamped on the test record and every report entry
func (p *Provisioner) RunID() string {
	return p.runID
}

// Run executes create, verify and seed in that order and prints the closing
// line. Step failures are reported in the results, never returned.
func (p *Provisioner) Run(ctx context.Context) []StepResult {
	results := []StepResult{
		p.CreateTable(ctx),
		p.VerifyTable(ctx),
		p.InsertTestRecord(ctx),
	}
	p.printf("✨ Process finished\n")
	return results
}

// CreateTable submits the SQL file
func (p *Provisioner) CreateTable(ctx context.Context) StepResult {
	p.printf("📝 Sending SQL to create the table...\n")

	if p.sql == nil {
		res := StepResult{Step: StepCreate, Err: errors.New("no sql file loaded")}
		p.printf("❌ Failed to create table. Error: %v\n", res.Err)
		p.finish(ctx, res, nil)
		return res
	}

	started := time.Now()
	status, err := p.gateway.ExecSQL(ctx, p.sql.Content)
	res := newResult(StepCreate, status, err, time.Since(started))

	switch {
	case res.Success:
		p.printf("✅ Table created successfully!%s\n", statusSuffix(status))
	default:
		p.printFailure("Failed to create table", res)
	}

	p.finish(ctx, res, map[string]interface{}{
		"sql_file":   p.sql.Path,
		"sql_sha256": p.sql.SHA256,
	})
	return res
}

// VerifyTable checks the target table is listed by schema introspection. A
// successful answer with no rows counts as a failure.
func (p *Provisioner) VerifyTable(ctx context.Context) StepResult {
	p.printf("🔍 Verifying the table was created...\n")

	started := time.Now()
	status, tables, err := p.gateway.FindTables(ctx, p.schema, p.table)
	res := newResult(StepVerify, status, err, time.Since(started))

	var meta map[string]interface{}
	switch {
	case res.Success && len(tables) > 0:
		rows, _ := json.Marshal(tables)
		p.printf("✅ Table %s found: %s\n", p.table, rows)
		meta = map[string]interface{}{"rows": len(tables)}
	case res.Success:
		res.Success = false
		res.Err = ErrTableNotFound
		p.printf("❌ Table %s NOT found in the database\n", p.table)
	default:
		p.printFailure("Failed to verify table", res)
	}

	p.finish(ctx, res, meta)
	return res
}

// InsertTestRecord writes the synthetic record tagged with the run id
func (p *Provisioner) InsertTestRecord(ctx context.Context) StepResult {
	p.printf("🧪 Inserting a test record...\n")

	record := models.NewTestRecord(p.runID)
	started := time.Now()
	status, err := p.gateway.Insert(ctx, p.table, record)
	res := newResult(StepSeed, status, err, time.Since(started))

	if res.Success {
		p.printf("✅ Test record inserted successfully!\n")
	} else {
		p.printFailure("Failed to insert test record", res)
	}

	var meta map[string]interface{}
	if record.ID != "" {
		meta = map[string]interface{}{"record_id": record.ID}
	}
	p.finish(ctx, res, meta)
	return res
}

func newResult(step string, status int, err error, took time.Duration) StepResult {
	res := StepResult{
		Step:       step,
		Success:    err == nil,
		StatusCode: status,
		Err:        err,
		Duration:   took,
	}
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		res.StatusCode = apiErr.StatusCode
		res.Body = apiErr.Body
	}
	return res
}

// printFailure prints the status and body when the gateway answered, or the
// error itself when it did not.
func (p *Provisioner) printFailure(what string, res StepResult) {
	var apiErr *platform.APIError
	if errors.As(res.Err, &apiErr) {
		p.printf("❌ %s. Status code: %d\n", what, res.StatusCode)
		p.printf("Response: %s\n", res.Body)
		return
	}
	p.printf("❌ %s. Error: %v\n", what, res.Err)
}

// finish records metrics and ships the report entry for res
func (p *Provisioner) finish(ctx context.Context, res StepResult, meta map[string]interface{}) {
	telemetry.RecordStep(res.Step, res.Success, res.Duration.Seconds())

	slog.Debug("provisioning step finished",
		"run_id", p.runID,
		"step", res.Step,
		"success", res.Success,
		"status", res.StatusCode,
		"duration_ms", res.Duration.Milliseconds(),
	)

	if p.shipper == nil {
		return
	}

	entry := &audit.LogEntry{
		Timestamp:  time.Now().UTC(),
		RunID:      p.runID,
		Step:       res.Step,
		Outcome:    audit.OutcomeSuccess,
		Target:     models.TableRef{Schema: p.schema, Name: p.table}.String(),
		Mode:       p.mode,
		StatusCode: res.StatusCode,
		DurationMS: res.Duration.Milliseconds(),
		Metadata:   meta,
	}
	if !res.Success {
		entry.Outcome = audit.OutcomeFailure
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
	}

	// Report failures are logged by the multi shipper and never fail the step.
	_ = p.shipper.Ship(ctx, entry)
}

func (p *Provisioner) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

// statusSuffix renders the status code when the gateway reported one
func statusSuffix(status int) string {
	if status == 0 {
		return ""
	}
	return fmt.Sprintf(" Status code: %d", status)
}
