package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/qepting91/redditbot/internal/domain"
)

// DefaultScopes are the capabilities the bot needs to read and answer
var DefaultScopes = []string{"submit", "privatemessages", "read", "identity"}

// ErrMissingScope is a configuration error; it is never retried
var ErrMissingScope = errors.New("session missing required scope")

// ConnectError is returned once every connect attempt has failed
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Connection is an authenticated session plus the identity it runs as.
// It is replaced on refresh, never modified.
type Connection struct {
	Session domain.Session
	Self    string
	Grant   domain.Grant
}

// Notifier tells an operator about credential fallbacks
type Notifier func(ctx context.Context, conn *Connection, subject, text string) error

type Connector struct {
	dialer   domain.Dialer
	primary  domain.Credentials
	fallback domain.Credentials
	scopes   []string
	shutdown *Shutdown
	notify   Notifier
	logger   *slog.Logger

	current *Connection
	creds   domain.Credentials
}

func NewConnector(dialer domain.Dialer, primary domain.Credentials, scopes []string, shutdown *Shutdown, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if scopes == nil {
		scopes = DefaultScopes
	}
	return &Connector{
		dialer:   dialer,
		primary:  primary,
		scopes:   scopes,
		shutdown: shutdown,
		logger:   logger,
	}
}

// WithFallback sets the credential used when a refresh is forbidden.
func (c *Connector) WithFallback(creds domain.Credentials, notify Notifier) *Connector {
	c.fallback = creds
	c.notify = notify
	return c
}

// Current returns the live connection, nil before Connect succeeds.
func (c *Connector) Current() *Connection { return c.current }

// Connect dials up to attempts times, sleeping backoffBase^attempt
// seconds between tries.
func (c *Connector) Connect(ctx context.Context, attempts int, backoffBase float64) (*Connection, error) {
	attempts = max(attempts, 1)

	for attempt := 1; ; attempt++ {
		c.logger.Debug("connect() creating reddit session", "attempt", attempt)
		conn, err := c.open(ctx, c.primary)
		if err == nil {
			c.current = conn
			c.creds = c.primary
			c.logger.Info("connect() logged in", "self", conn.Self)
			return conn, nil
		}
		if errors.Is(err, ErrMissingScope) {
			return nil, err
		}

		if attempt >= attempts {
			c.logger.Error("connect() connection attempt failed", "attempt", attempt, "err", err)
			return nil, &ConnectError{Attempts: attempt, Err: err}
		}
		c.logger.Warn("connect() connection attempt failed", "attempt", attempt, "err", err)

		wait := time.Duration(math.Pow(backoffBase, float64(attempt)) * float64(time.Second))
		if !c.shutdown.Sleep(wait) {
			return nil, domain.ErrShutdown
		}
	}
}

// Refresh renews the grant of the live connection. A forbidden refresh
// falls back to the secondary credential with a brand new session.
func (c *Connector) Refresh(ctx context.Context) (*Connection, error) {
	old := c.current
	if old == nil {
		return nil, errors.New("refresh before connect")
	}

	grant, err := c.dialer.Refresh(ctx, c.creds)
	if err == nil {
		c.current = &Connection{Session: old.Session, Self: old.Self, Grant: grant}
		c.logger.Debug("refresh() token renewed", "expiry", grant.Expiry)
		return c.current, nil
	}
	if !errors.Is(err, domain.ErrForbidden) || c.fallback.Empty() {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	c.logger.Warn("refresh() forbidden, switching to fallback credential", "err", err)
	conn, ferr := c.open(ctx, c.fallback)
	if ferr != nil {
		return nil, fmt.Errorf("refresh fallback: %w", ferr)
	}
	c.current = conn
	c.creds = c.fallback

	if c.notify != nil {
		text := fmt.Sprintf("Refreshing the primary token was forbidden (%v). Running as /u/%s now.", err, conn.Self)
		if nerr := c.notify(ctx, conn, "bot switched to fallback credential", text); nerr != nil {
			c.logger.Warn("refresh() operator notification failed", "err", nerr)
		}
	}
	return conn, nil
}

func (c *Connector) open(ctx context.Context, creds domain.Credentials) (*Connection, error) {
	session, grant, err := c.dialer.Dial(ctx, creds)
	if err != nil {
		return nil, err
	}

	if missing := missingScopes(grant.Scopes, c.scopes); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingScope, strings.Join(missing, ","))
	}

	self, err := session.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("identify self: %w", err)
	}
	return &Connection{Session: session, Self: self, Grant: grant}, nil
}

// a "*" grant covers every scope
func missingScopes(have, want []string) []string {
	if slices.Contains(have, "*") {
		return nil
	}
	var missing []string
	for _, s := range want {
		if !slices.Contains(have, s) {
			missing = append(missing, s)
		}
	}
	return missing
}
