// Package platform is a client for the hosted backend's REST gateway: the
// PostgREST-style API that fronts the project database. It covers the calls
// the provisioner needs: raw SQL execution, schema introspection, row inserts
// and filtered selects. Every request is authenticated with the service role
// key sent twice, as the apikey header and as a bearer token, which is what
// the gateway expects for privileged access.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/garage-club/activity-logs/internal/db/models"
	"github.com/garage-club/activity-logs/internal/telemetry"
)

// Gateway routes, relative to the project URL
const (
	SQLPath         = "/rest/v1/sql"
	RPCPathPrefix   = "/rest/v1/rpc/"
	TablesPath      = "/rest/v1/information_schema/tables"
	TablePathPrefix = "/rest/v1/"
)

// maxErrorBody caps how much of a failed response is kept in an APIError
const maxErrorBody = 64 << 10

// Client talks to one project's REST gateway
type Client struct {
	baseURL     string
	serviceKey  string
	httpClient  *http.Client
	rpcFunction string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRPCFunction makes ExecSQL call the named SQL function through
// /rest/v1/rpc/<name> instead of the /rest/v1/sql endpoint.
func WithRPCFunction(name string) Option {
	return func(c *Client) { c.rpcFunction = name }
}

// New creates a Client for the project at baseURL
func New(baseURL, serviceKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if serviceKey == "" {
		return nil, ErrMissingServiceKey
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExecSQL submits statement for execution and returns the 2xx status code.
//
// On the SQL endpoint the statement is sent as {"query": SanitizeSQL(statement)}.
// With WithRPCFunction it is sent unmodified as {"sql": statement}, which is
// the argument name of the exec_sql helper function.
func (c *Client) ExecSQL(ctx context.Context, statement string) (int, error) {
	if c.rpcFunction != "" {
		return c.ExecRPC(ctx, c.rpcFunction, statement)
	}
	payload := map[string]string{"query": SanitizeSQL(statement)}
	status, _, err := c.do(ctx, http.MethodPost, SQLPath, nil, payload)
	return status, err
}

// ExecRPC calls a SQL function exposed by the gateway with a single sql argument
func (c *Client) ExecRPC(ctx context.Context, function, statement string) (int, error) {
	payload := map[string]string{"sql": statement}
	status, _, err := c.do(ctx, http.MethodPost, RPCPathPrefix+url.PathEscape(function), nil, payload)
	return status, err
}

// FindTables asks the schema-introspection endpoint for table in schema.
// A 2xx answer with no rows means the table does not exist.
func (c *Client) FindTables(ctx context.Context, schema, table string) (int, []models.TableRef, error) {
	query := url.Values{}
	query.Set("select", "table_name")
	query.Set("table_schema", "eq."+schema)
	query.Set("table_name", "eq."+table)

	status, body, err := c.do(ctx, http.MethodGet, TablesPath, query, nil)
	if err != nil {
		return status, nil, err
	}

	var tables []models.TableRef
	if err := json.Unmarshal(body, &tables); err != nil {
		return status, nil, fmt.Errorf("platform: decode table list: %w", err)
	}
	for i := range tables {
		if tables[i].Schema == "" {
			tables[i].Schema = schema
		}
	}
	return status, tables, nil
}

// Insert writes one activity log row into table
func (c *Client) Insert(ctx context.Context, table string, record *models.ActivityLog) (int, error) {
	record.Normalize()
	status, _, err := c.do(ctx, http.MethodPost, TablePathPrefix+url.PathEscape(table), nil, record)
	return status, err
}

// ListActivity reads activity log rows from table, newest first
func (c *Client) ListActivity(ctx context.Context, table string, filters models.ActivityFilters) ([]*models.ActivityLog, error) {
	_, body, err := c.do(ctx, http.MethodGet, TablePathPrefix+url.PathEscape(table), filters.Query(), nil)
	if err != nil {
		return nil, err
	}

	var logs []*models.ActivityLog
	if err := json.Unmarshal(body, &logs); err != nil {
		return nil, fmt.Errorf("platform: decode activity logs: %w", err)
	}
	return logs, nil
}

// do sends one request. It returns the status code whenever a response was
// received, the body for 2xx answers, and an *APIError for everything else.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}) (int, []byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("platform: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("platform: create request: %w", err)
	}
	c.setAuthHeaders(req)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.RecordGatewayRequest(method, metricEndpoint(path), 0)
		return 0, nil, fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	telemetry.RecordGatewayRequest(method, metricEndpoint(path), resp.StatusCode)

	slog.Debug("gateway request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, nil, newAPIError(method, path, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("platform: read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// metricEndpoint folds per-function RPC paths into one label value
func metricEndpoint(path string) string {
	if strings.HasPrefix(path, RPCPathPrefix) {
		return strings.TrimSuffix(RPCPathPrefix, "/")
	}
	return path
}
