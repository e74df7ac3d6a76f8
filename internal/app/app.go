// Package app builds the sync core from configuration. An App owns exactly
// one instance of every component; nothing in the core is a process-wide
// singleton except the logger and the tracer provider.
package app

import (
	"context"
	"io"
	"os"

	"github.com/kimhsiao/campaignsync/internal/campaign"
	"github.com/kimhsiao/campaignsync/internal/config"
	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/interaction"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/netstate"
	"github.com/kimhsiao/campaignsync/internal/remote"
	"github.com/kimhsiao/campaignsync/internal/sync/queue"
	"github.com/kimhsiao/campaignsync/internal/sync/reconcile"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

// Remote is everything the core needs from the backend. *remote.Client
// implements it.
type Remote interface {
	queue.Executor
	campaign.Fetcher
}

// Options overrides parts of the wiring. Zero values build the production
// stack from Config.
type Options struct {
	Config *config.Config

	// Store replaces the SQLite store opened at Config.Store.Path.
	Store db.KVStore
	// Remote replaces the HTTP client.
	Remote Remote
	// Signal replaces the Manual connectivity signal. When set, SetConnectivity
	// is unavailable.
	Signal netstate.Signal
	// InitialStatus seeds the Manual signal.
	InitialStatus netstate.Status

	LogOutput io.Writer
	Telemetry telemetry.Options
}

// Session is the signed-in user as handed over by the host app.
type Session struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// App is the application context.
type App struct {
	Config       *config.Config
	KV           db.KVStore
	Tracker      *netstate.Tracker
	Queue        *queue.Engine
	Interactions *interaction.Store
	Loop         *reconcile.Loop
	Campaigns    *campaign.Service

	database          *db.DB
	sqlite            *db.SQLiteStore
	manual            *netstate.Manual
	shutdownTelemetry func(context.Context) error
}

// New wires an App. It does not touch durable state or start the loop; call
// Start for that.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logging.Init(out, logging.ParseLevel(cfg.Log.Level))

	topts := opts.Telemetry
	topts.Enabled = topts.Enabled || cfg.Telemetry.Enabled

	a := &App{
		Config:            cfg,
		Tracker:           netstate.NewTracker(),
		shutdownTelemetry: telemetry.Setup(topts),
	}

	a.KV = opts.Store
	if a.KV == nil {
		database, err := db.Open(cfg.Store.Path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStoreFailed, "open store", err)
		}
		a.database = database
		a.sqlite = db.NewSQLiteStore(database)
		a.KV = a.sqlite
	}

	rem := opts.Remote
	if rem == nil {
		rem = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout, a.KV)
	}

	signal := opts.Signal
	if signal == nil {
		a.manual = netstate.NewManual(opts.InitialStatus)
		signal = a.manual
	}

	a.Queue = queue.New(a.KV, rem, a.Tracker, queue.Options{
		MaxRetries:      cfg.Queue.MaxRetries,
		BaseBackoff:     cfg.Queue.BaseBackoff,
		MaxBackoff:      cfg.Queue.MaxBackoff,
		MaxAge:          cfg.Queue.MaxAge,
		DisableBatching: !cfg.Queue.BatchingEnabled(),
	})
	a.Interactions = interaction.New(a.KV, cfg.Interaction.StaleAfter)
	a.Loop = reconcile.New(a.Queue, a.Interactions, signal, a.Tracker, reconcile.Config{
		Interval: cfg.Reconcile.Interval,
		MaxAge:   cfg.Queue.MaxAge,
	})
	a.Queue.SetListener(a.Loop)
	a.Campaigns = campaign.NewService(a.Interactions, a.Queue, rem, a.Tracker, cfg.Cache.Freshness)

	return a, nil
}

// Start restores durable state and starts the reconciliation loop. It is a
// no-op while the loop runs.
func (a *App) Start(ctx context.Context) error {
	if a.Loop.IsRunning() {
		return nil
	}
	if err := a.Restore(ctx); err != nil {
		return err
	}
	a.Loop.Start(ctx)
	return nil
}

// Restore loads the persisted queue and interaction state without starting
// the loop.
func (a *App) Restore(ctx context.Context) error {
	n, err := a.Queue.Load(ctx)
	if err != nil {
		return err
	}
	if err := a.Interactions.Load(ctx); err != nil {
		return err
	}
	logging.Info("Sync core restored", map[string]interface{}{"pending_requests": n})
	return nil
}

// Close stops the loop, flushes tracing and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.Loop.Stop()
	if err := a.shutdownTelemetry(ctx); err != nil {
		logging.Warn("Telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			logging.Warn("Closing cached statements failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.database != nil {
		return a.database.Close()
	}
	return nil
}

// SetConnectivity feeds a connectivity reading from the host app.
func (a *App) SetConnectivity(s netstate.Status) error {
	if a.manual == nil {
		return apperrors.New(apperrors.ErrInvalid, "connectivity is driven by an external signal")
	}
	a.manual.Set(s)
	return nil
}

// SetSession stores the credentials the remote client sends on every call.
func (a *App) SetSession(ctx context.Context, s Session) error {
	if s.UserID == "" || s.Token == "" {
		return apperrors.New(apperrors.ErrInvalid, "user id and token are required")
	}
	pairs := map[string]string{
		db.KeyUserID:    s.UserID,
		db.KeyAuthToken: s.Token,
	}
	if s.Email != "" {
		pairs[db.KeyUserEmail] = s.Email
	}
	if s.RefreshToken != "" {
		pairs[db.KeyRefreshToken] = s.RefreshToken
	}
	if err := a.KV.MultiSet(ctx, pairs); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "save session", err)
	}
	logging.Info("Session updated", map[string]interface{}{"actor_id": s.UserID})
	return nil
}

// UserID returns the signed-in user, or "" when there is none.
func (a *App) UserID(ctx context.Context) (string, error) {
	id, _, err := a.KV.Get(ctx, db.KeyUserID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStoreFailed, "read user id", err)
	}
	return id, nil
}

// Logout drops every queued request, the interaction cache and the session.
// Queued requests are not reconciled.
func (a *App) Logout(ctx context.Context) error {
	if err := a.Queue.Clear(ctx); err != nil {
		return err
	}
	if err := a.Interactions.Reset(ctx); err != nil {
		return err
	}
	if err := a.KV.MultiRemove(ctx, db.KeyAuthToken, db.KeyRefreshToken, db.KeyUserEmail, db.KeyUserID); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "clear session", err)
	}
	logging.Info("Logged out, local sync state cleared")
	return nil
}
