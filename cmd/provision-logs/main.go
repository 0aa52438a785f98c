// Package main is the entry point for the activity_logs provisioner. It
// dispatches its subcommands (run, create, verify, seed, logs, version) via a
// simple switch so the whole CLI surface is readable in one place. run, the
// default, performs the three provisioning steps in order exactly once.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/garage-club/activity-logs/internal/audit"
	"github.com/garage-club/activity-logs/internal/config"
	"github.com/garage-club/activity-logs/internal/db"
	"github.com/garage-club/activity-logs/internal/db/models"
	"github.com/garage-club/activity-logs/internal/platform"
	"github.com/garage-club/activity-logs/internal/provision"
	"github.com/garage-club/activity-logs/internal/schemafile"
	"github.com/garage-club/activity-logs/internal/telemetry"
)

const (
	version = "0.1.0"

	defaultEnvFile = ".env"
	commands       = "run, create, verify, seed, logs, version"
)

// backend is what every subcommand runs against: the REST gateway client or
// the direct database gateway.
type backend interface {
	provision.Gateway
	ListActivity(ctx context.Context, table string, filters models.ActivityFilters) ([]*models.ActivityLog, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		log.Fatalf("Error: %v\n", err)
	}
}

// run executes one command. A returned error means exit status 1; failed
// provisioning steps are printed but do not produce one.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	command := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", envFileDefault(), "path to the KEY=VALUE environment file")

	var lf *logsFlags
	switch command {
	case "run", "create", "verify", "seed":
	case "logs":
		lf = registerLogsFlags(fs)
	case "version":
		fmt.Fprintf(stdout, "provision-logs v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: %s", command, commands)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (the command goes before its flags)\nAvailable commands: %s", fs.Arg(0), commands)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		if errors.Is(err, config.ErrMissingRequired) {
			fmt.Fprintf(stdout, "❌ Environment variables %s or %s not found\n", config.KeyPlatformURL, config.KeyServiceRoleKey)
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(stderr, cfg.Logging.Format, cfg.Logging.Level)
	fmt.Fprintf(stdout, "✅ Environment loaded: URL=%s\n", cfg.Platform.URL)
	slog.Debug("configuration loaded",
		"env_file", *envFile,
		"mode", cfg.Provision.Mode,
		"target", cfg.Provision.Schema+"."+cfg.Provision.Table,
		"service_key", cfg.Platform.MaskedKey(),
	)

	// The SQL file is checked before anything touches the network.
	var sqlFile *schemafile.File
	if command == "run" || command == "create" {
		sqlFile, err = schemafile.Load(cfg.Provision.SQLFile, cfg.Provision.SQLSHA256)
		if err != nil {
			return err
		}
	}

	gw, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	if command == "logs" {
		filters, err := lf.filters()
		if err != nil {
			return err
		}
		return listLogs(ctx, stdout, gw, cfg.Provision.Table, filters, lf.json)
	}

	shipper, err := audit.NewMultiShipper(reportShippers(cfg))
	if err != nil {
		return fmt.Errorf("failed to set up run report: %w", err)
	}
	defer func() {
		if err := shipper.Close(); err != nil {
			slog.Warn("failed to close run report", "error", err)
		}
	}()

	p := provision.New(gw, sqlFile,
		provision.WithOutput(stdout),
		provision.WithShipper(shipper),
		provision.WithTarget(cfg.Provision.Schema, cfg.Provision.Table),
		provision.WithMode(cfg.Provision.Mode),
	)
	slog.Info("provisioning", "command", command, "run_id", p.RunID())

	switch command {
	case "run":
		p.Run(ctx)
	case "create":
		p.CreateTable(ctx)
	case "verify":
		p.VerifyTable(ctx)
	case "seed":
		p.InsertTestRecord(ctx)
	}

	pushMetrics(ctx, cfg.Metrics)
	return nil
}

func envFileDefault() string {
	if v := os.Getenv("ENV_FILE"); v != "" {
		return v
	}
	return defaultEnvFile
}

// newBackend builds the gateway selected by PROVISION_SQL_MODE
func newBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	if cfg.Provision.Mode == config.ModeDirect {
		conn, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db.NewGateway(conn), func() { conn.Close() }, nil
	}

	var opts []platform.Option
	if cfg.Provision.Mode == config.ModeRPC {
		opts = append(opts, platform.WithRPCFunction(cfg.Provision.RPCFunction))
	}
	client, err := platform.New(cfg.Platform.URL, cfg.Platform.ServiceKey, cfg.Platform.Timeout, opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func reportShippers(cfg *config.Config) []audit.ShipperConfig {
	var shippers []audit.ShipperConfig
	if cfg.Report.File != "" {
		shippers = append(shippers, audit.ShipperConfig{
			Type: "file",
			File: &audit.FileConfig{Path: cfg.Report.File, MaxSizeMB: 10, MaxBackups: 3},
		})
	}
	if cfg.Report.WebhookURL != "" {
		shippers = append(shippers, audit.ShipperConfig{
			Type: "webhook",
			Webhook: &audit.WebhookConfig{
				URL:       cfg.Report.WebhookURL,
				Timeout:   cfg.Report.WebhookTimeout,
				BatchSize: 3,
			},
		})
	}
	return shippers
}

func pushMetrics(ctx context.Context, cfg config.MetricsConfig) {
	if cfg.PushgatewayURL == "" {
		return
	}
	if err := telemetry.PushMetrics(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		slog.Warn("metrics push failed", "pushgateway", cfg.PushgatewayURL, "error", err)
	}
}

type logsFlags struct {
	limit      *int
	offset     *int
	action     *string
	entityType *string
	entityID   *string
	userID     *string
	from       *string
	to         *string
	json       bool
}

func registerLogsFlags(fs *flag.FlagSet) *logsFlags {
	lf := &logsFlags{
		limit:      fs.Int("limit", 20, "maximum number of rows"),
		offset:     fs.Int("offset", 0, "rows to skip"),
		action:     fs.String("action", "", "only this action (CREATE, UPDATE, DELETE, VIEW, ...)"),
		entityType: fs.String("entity-type", "", "only this entity type (MEMBER, VEHICLE, EVENT, ...)"),
		entityID:   fs.String("entity-id", "", "only this entity id"),
		userID:     fs.String("user-id", "", "only this user id"),
		from:       fs.String("from", "", "oldest created_at, RFC 3339 or YYYY-MM-DD"),
		to:         fs.String("to", "", "newest created_at, RFC 3339 or YYYY-MM-DD"),
	}
	fs.BoolVar(&lf.json, "json", false, "print rows as JSON lines")
	return lf
}

func (lf *logsFlags) filters() (models.ActivityFilters, error) {
	f := models.ActivityFilters{
		UserID:     *lf.userID,
		Action:     *lf.action,
		EntityType: *lf.entityType,
		EntityID:   *lf.entityID,
		Limit:      *lf.limit,
		Offset:     *lf.offset,
	}
	var err error
	if f.FromDate, err = parseTimeFlag("from", *lf.from); err != nil {
		return f, err
	}
	if f.ToDate, err = parseTimeFlag("to", *lf.to); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid -%s %q: want RFC 3339 or YYYY-MM-DD", name, value)
}

func listLogs(ctx context.Context, w io.Writer, gw backend, table string, filters models.ActivityFilters, asJSON bool) error {
	logs, err := gw.ListActivity(ctx, table, filters)
	if err != nil {
		return fmt.Errorf("failed to list activity logs: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, l := range logs {
			if err := enc.Encode(l); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED_AT\tUSERNAME\tACTION\tENTITY_TYPE\tENTITY_ID\tDETAILS")
	for _, l := range logs {
		created := ""
		if l.CreatedAt != nil {
			created = l.CreatedAt.UTC().Format(time.RFC3339)
		}
		entityID := ""
		if l.EntityID != nil {
			entityID = *l.EntityID
		}
		details, _ := json.Marshal(l.Details)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", created, l.Username, l.Action, l.EntityType, entityID, details)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d activity log(s)\n", len(logs))
	return nil
}
