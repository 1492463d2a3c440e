// Package catalog wraps the tool's PostgreSQL connection and exposes
// the role, database and grant operations reconciliation needs. The
// client is stateless with respect to reconciliation; all state lives
// in the server's system catalogs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/numtide/kube-postgres-bootstrap/pkg/config"
	"github.com/numtide/kube-postgres-bootstrap/pkg/util/ident"
)

// Error reports a failed catalog operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("catalog %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// conn is the subset of *pgx.Conn the client uses. Tests substitute a
// fake; production always passes the real connection.
type conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	// CallTimeout bounds each statement. Zero leaves calls bounded only
	// by the caller's context.
	CallTimeout time.Duration
	// KeepaliveInterval is the cadence of the background liveness ping.
	// Zero selects a 30s default.
	KeepaliveInterval time.Duration
	Logger            logr.Logger
}

// Client issues catalog lookups and DDL over a single shared
// connection. It owns a background keepalive task that runs for the
// client's lifetime; the task's failures are logged and parked in an
// error channel which the next catalog call drains and returns, so a
// dead connection is reported through a call site rather than only a
// log line.
type Client struct {
	conn conn
	// mu serializes every use of conn: a pgx connection is not safe
	// for concurrent use, and the keepalive task must never ping while
	// a statement is on the wire.
	mu          sync.Mutex
	callTimeout time.Duration
	log         logr.Logger

	pumpErr  chan error
	stopPump context.CancelFunc
	pumpDone chan struct{}
}

// Connect establishes the connection described by profile and starts
// the keepalive task. Callers must Close the client to stop the task
// and release the connection.
func Connect(ctx context.Context, profile config.ConnectionProfile, opts Options) (*Client, error) {
	pgc, err := pgx.Connect(ctx, profile.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s:%s: %w", profile.Host, profile.Port, err)
	}
	return newClient(pgc, opts), nil
}

func newClient(cn conn, opts Options) *Client {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:        cn,
		callTimeout: opts.CallTimeout,
		log:         opts.Logger,
		pumpErr:     make(chan error, 1),
		stopPump:    cancel,
		pumpDone:    make(chan struct{}),
	}
	go c.pump(pumpCtx, opts.KeepaliveInterval)
	return c
}

// pump pings the connection on a fixed cadence so a dead link is
// noticed between statements. It carries no reconciliation logic.
func (c *Client) pump(ctx context.Context, interval time.Duration) {
	defer close(c.pumpDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.mu.TryLock() {
				// A statement is in flight; it demonstrates liveness
				// on its own.
				continue
			}
			err := c.conn.Ping(ctx)
			c.mu.Unlock()
			if err != nil {
				c.log.Error(err, "connection keepalive failed")
				select {
				case c.pumpErr <- err:
				default: // an earlier failure is already parked
				}
			}
		}
	}
}

// Close stops the keepalive task, waits for it to exit, and closes the
// connection.
func (c *Client) Close(ctx context.Context) error {
	c.stopPump()
	<-c.pumpDone
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close(ctx)
}

// RoleExists reports whether a role with the given name is present in
// the role catalog.
func (c *Client) RoleExists(ctx context.Context, name string) (bool, error) {
	if err := c.pumped(); err != nil {
		return false, &Error{Op: "role lookup", Err: err}
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	var one int
	err := c.queryRow(ctx, "SELECT 1 FROM pg_user WHERE usename = $1", name, &one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &Error{Op: "role lookup", Err: err}
	}
	return true, nil
}

// CreateRole creates a fresh login role holding the given password.
// Callers must check RoleExists first; creating an existing role fails.
func (c *Client) CreateRole(ctx context.Context, name, password string) error {
	quoted, err := sqlIdent(name)
	if err != nil {
		return &Error{Op: "create role", Err: err}
	}
	return c.exec(ctx, "create role",
		fmt.Sprintf("CREATE USER %s WITH PASSWORD %s", quoted, quoteLiteral(password)))
}

// SetRolePassword rotates an existing role's password.
func (c *Client) SetRolePassword(ctx context.Context, name, password string) error {
	quoted, err := sqlIdent(name)
	if err != nil {
		return &Error{Op: "alter role", Err: err}
	}
	return c.exec(ctx, "alter role",
		fmt.Sprintf("ALTER USER %s WITH PASSWORD %s", quoted, quoteLiteral(password)))
}

// DatabaseExists reports whether the named database is present.
func (c *Client) DatabaseExists(ctx context.Context, name string) (bool, error) {
	if err := c.pumped(); err != nil {
		return false, &Error{Op: "database lookup", Err: err}
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	var one int
	err := c.queryRow(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name, &one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &Error{Op: "database lookup", Err: err}
	}
	return true, nil
}

// CreateDatabase creates the named database. Callers must check
// DatabaseExists first.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	quoted, err := sqlIdent(name)
	if err != nil {
		return &Error{Op: "create database", Err: err}
	}
	return c.exec(ctx, "create database", fmt.Sprintf("CREATE DATABASE %s", quoted))
}

// GrantAllPrivileges reasserts the role's access to the database. The
// grant is harmless to repeat, so it is issued on every run to repair
// drift.
func (c *Client) GrantAllPrivileges(ctx context.Context, database, role string) error {
	quotedDB, err := sqlIdent(database)
	if err != nil {
		return &Error{Op: "grant", Err: err}
	}
	quotedRole, err := sqlIdent(role)
	if err != nil {
		return &Error{Op: "grant", Err: err}
	}
	return c.exec(ctx, "grant",
		fmt.Sprintf("GRANT ALL ON DATABASE %s TO %s", quotedDB, quotedRole))
}

func (c *Client) exec(ctx context.Context, op, stmt string) error {
	if err := c.pumped(); err != nil {
		return &Error{Op: op, Err: err}
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	c.mu.Lock()
	_, err := c.conn.Exec(ctx, stmt)
	c.mu.Unlock()
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// queryRow runs a single-row lookup with the connection lock held
// through Scan; pgx defers wire reads until the row is consumed.
func (c *Client) queryRow(ctx context.Context, sql string, arg any, dest *int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.QueryRow(ctx, sql, arg).Scan(dest)
}

// pumped surfaces a parked keepalive failure before a statement is
// issued.
func (c *Client) pumped() error {
	select {
	case err := <-c.pumpErr:
		return fmt.Errorf("connection keepalive: %w", err)
	default:
		return nil
	}
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// sqlIdent validates name against the identifier allow-list and
// returns it quoted for interpolation. DDL identifiers cannot be bound
// as statement parameters, so validation plus quoting is the whole
// defense.
func sqlIdent(name string) (string, error) {
	if err := ident.Validate(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// quoteLiteral renders a single-quoted literal for the password clause
// of CREATE/ALTER USER, which takes no bound parameters either.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
