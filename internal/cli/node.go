package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/rowmerge/internal/client"
	"github.com/roach88/rowmerge/internal/config"
	"github.com/roach88/rowmerge/internal/engine"
	"github.com/roach88/rowmerge/internal/fold"
	"github.com/roach88/rowmerge/internal/ir"
	"github.com/roach88/rowmerge/internal/keyalloc"
	"github.com/roach88/rowmerge/internal/metrics"
	"github.com/roach88/rowmerge/internal/store"
)

// Settings persisted by init so later commands need no flags.
const (
	settingApp      = "app"
	settingIdentity = "identity"
)

// node is an opened local replica: config, store and engine.
type node struct {
	cfg     config.Config
	store   *store.Store
	engine  *engine.Engine
	metrics *metrics.Metrics
	// registry gathers the engine's metrics for --metrics.
	registry *prometheus.Registry

	mu     sync.Mutex
	merges []MergeResult
}

// MergeResult is one merge reported by a command.
type MergeResult struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "invalid config", err)
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Identity != "" {
		cfg.Identity = opts.Identity
	}
	if opts.App != "" {
		cfg.App = opts.App
	}
	return cfg, nil
}

// openNode opens the database and starts an engine for the configured app.
// App and identity fall back to the settings saved by init.
func openNode(ctx context.Context, opts *RootOptions) (*node, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database, store.WithRowCacheSize(cfg.RowCacheSize))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	n := &node{cfg: cfg, store: st}
	if err := n.loadSettings(ctx); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read settings", err)
	}
	if n.cfg.App == "" {
		st.Close()
		return nil, NewExitError(ExitCommandError, "no application configured: pass --app or run init")
	}

	n.registry = prometheus.NewRegistry()
	n.metrics, err = metrics.New(n.registry)
	if err != nil {
		st.Close()
		return nil, err
	}
	n.engine, err = engine.New(ctx, st,
		engine.WithApp(n.cfg.App),
		engine.WithMetrics(n.metrics),
		engine.WithReplayWorkers(n.cfg.ReplayWorkers),
		engine.WithHook(n.record),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return n, nil
}

func (n *node) loadSettings(ctx context.Context) error {
	for name, dst := range map[string]*string{
		settingApp:      &n.cfg.App,
		settingIdentity: &n.cfg.Identity,
	} {
		if *dst != "" {
			continue
		}
		v, ok, err := n.store.LoadSetting(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}
	return nil
}

func (n *node) record(ref ir.RowRef, out fold.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.merges = append(n.merges, MergeResult{
		Table:  ref.Table,
		Key:    ref.Key,
		Action: out.Action.String(),
		Reason: string(out.Reason),
	})
}

// takeMerges returns and clears the merges recorded since the last call.
func (n *node) takeMerges() []MergeResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.merges
	n.merges = nil
	if out == nil {
		out = []MergeResult{}
	}
	return out
}

// writer returns a client for the configured identity.
func (n *node) writer(ctx context.Context) (*client.Client, error) {
	if n.cfg.Identity == "" {
		return nil, NewExitError(ExitCommandError, "no identity configured: pass --identity or run init")
	}
	alloc := keyalloc.New(n.store, keyalloc.WithWindow(n.cfg.ReservationWindow))
	c, err := client.New(ctx, n.cfg.App, n.cfg.Identity, n.engine, n.store, alloc)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create client", err)
	}
	return c, nil
}

// checkTable rejects tables outside the configured list.
func (n *node) checkTable(table string) error {
	if !n.cfg.AllowsTable(table) {
		return NewExitError(ExitCommandError, fmt.Sprintf("table %q is not configured for this node", table))
	}
	return nil
}

// commandError wraps err as a command error unless it already carries an
// exit code.
func commandError(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(ExitCommandError, message, err)
}

// writeMetrics dumps the metrics gathered so far to path, in the Prometheus
// text format. An empty path writes nothing.
func (n *node) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write metrics", err)
	}
	if err := metrics.WriteText(f, n.registry); err != nil {
		f.Close()
		return WrapExitError(ExitCommandError, "failed to write metrics", err)
	}
	if err := f.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to write metrics", err)
	}
	return nil
}

func (n *node) Close() error {
	n.engine.Stop()
	return n.store.Close()
}
