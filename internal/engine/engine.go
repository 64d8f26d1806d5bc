// Package engine ties discovery, merging, decisions and the annotation
// ledger together behind one facade used by the CLI, the hook and the
// MCP server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yamonco/ward/internal/audit"
	"github.com/yamonco/ward/internal/cache"
	"github.com/yamonco/ward/internal/config"
	"github.com/yamonco/ward/internal/discover"
	"github.com/yamonco/ward/internal/ledger"
	"github.com/yamonco/ward/internal/metrics"
	"github.com/yamonco/ward/internal/policy"
)

// Resolution is the effective policy for one target.
type Resolution struct {
	Target string
	Chain  policy.Chain
	Policy *policy.Resolved
}

// Nearest returns the innermost policy file, or "" when none applies.
func (r Resolution) Nearest() string {
	return r.Chain.Nearest()
}

// Describe renders the resolution for display, followed by the ledger
// entries of every file in the chain.
func (r Resolution) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "target: %s\n", r.Target)
	b.WriteString(policy.Describe(r.Policy))
	for _, e := range r.Chain {
		if e.Directives == nil || len(e.Directives.Comments) == 0 {
			continue
		}
		fmt.Fprintf(&b, "notes in %s:\n", e.Path)
		for _, c := range e.Directives.Comments {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	return b.String()
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	discoverer *discover.Discoverer
	cache      *cache.Cache
	ledger     *ledger.Ledger
	audit      audit.Sink
	metrics    *metrics.Metrics
	closers    []io.Closer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAudit replaces the audit sink built from config.
func WithAudit(s audit.Sink) Option {
	return func(e *Engine) { e.audit = s }
}

// WithMetrics shares a metrics registry with the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine from cfg.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	if e.audit == nil {
		if cfg.AuditEnabled() {
			sink, err := audit.Open(cfg.Audit.Output)
			if err != nil {
				return nil, err
			}
			e.audit = sink
			e.closers = append(e.closers, sink)
		} else {
			e.audit = audit.Discard{}
		}
	}

	var loader discover.Loader = discover.FileLoader{}
	if cfg.CacheEnabled() {
		c, err := cache.New(cfg.Cache.Size,
			cache.WithMode(cache.Mode(cfg.Cache.Fingerprint)),
			cache.WithLogger(e.logger),
			cache.WithObserver(e.metrics),
		)
		if err != nil {
			return nil, err
		}
		e.cache = c
		loader = c
	}

	e.discoverer = discover.New(cfg.Root, loader)
	e.discoverer.FileName = cfg.PolicyFile
	e.discoverer.Logger = e.logger

	e.ledger = ledger.New()
	e.ledger.LockTimeout = cfg.Ledger.LockTimeout
	e.ledger.PollInterval = cfg.Ledger.PollInterval
	e.ledger.Logger = e.logger
	e.ledger.Observer = e.metrics
	if e.cache != nil {
		e.ledger.OnAppend = e.cache.Invalidate
	}

	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Resolve discovers and merges the policy chain for target.
func (e *Engine) Resolve(target string) (Resolution, error) {
	abs, err := absTarget(target)
	if err != nil {
		return Resolution{}, err
	}
	chain, err := e.discoverer.Discover(abs)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Target: abs,
		Chain:  chain,
		Policy: policy.Merge(chain),
	}, nil
}

// Check authorizes req. Discovery errors are returned as errors, never
// as a Deny.
func (e *Engine) Check(ctx context.Context, req policy.Request) (policy.Decision, error) {
	res, err := e.Resolve(req.Target)
	if err != nil {
		return policy.Decision{}, err
	}
	req.Target = res.Target

	d := policy.Evaluate(res.Policy, req)

	command := policy.CommandName(req.Command)
	e.audit.Emit(ctx, audit.NewRecord(req.Target, command, req.Kind.String(), d.Verdict.String(), d.Cause.Code()))
	e.metrics.ObserveDecision(d.Verdict.String(), d.Cause.Code())
	e.logger.Debug("decision",
		"target", req.Target,
		"command", command,
		"kind", req.Kind.String(),
		"verdict", d.Verdict.String(),
		"files", len(res.Chain))

	return d, nil
}

// Comment appends text to the nearest policy file governing target.
func (e *Engine) Comment(target, text string) error {
	res, err := e.Resolve(target)
	if err != nil {
		return err
	}
	return e.ledger.Append(res.Nearest(), res.Policy, text)
}

// Validate parses a single policy file and returns its malformed
// values. A directory is taken to mean the policy file inside it.
func (e *Engine) Validate(path string) ([]policy.Issue, error) {
	abs, err := absTarget(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, e.cfg.PolicyFile)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNoPolicyFile, abs)
		}
		return nil, fmt.Errorf("read policy %s: %w", abs, err)
	}
	return policy.Parse(data).Issues, nil
}

// Watch evicts cached files as they change until ctx is done. It is a
// no-op unless both the cache and cache.watch are enabled.
func (e *Engine) Watch(ctx context.Context) error {
	if e.cache == nil || !e.cfg.CacheWatch() {
		return nil
	}
	return e.cache.Watch(ctx)
}

// Close releases the watcher and any audit output file.
func (e *Engine) Close() error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func absTarget(target string) (string, error) {
	if target == "" {
		target = "."
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", target, err)
	}
	return abs, nil
}
