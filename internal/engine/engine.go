// Package engine implements cuba's orchestrator: the thin dispatcher that
// resolves a profile by name, enforces the one-run-per-profile and
// N-concurrent-profiles rules, and hands off to the ops package for the
// actual work (spec §4.1).
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/cuba/cuba/internal/config"
	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/internal/hash"
	"github.com/cuba/cuba/internal/metrics"
	"github.com/cuba/cuba/internal/ops"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/pkg/errors"
	"github.com/cuba/cuba/pkg/logging"
	"github.com/cuba/cuba/pkg/message"
	"github.com/cuba/cuba/pkg/password"
)

// Engine holds the configuration, named filesystems, and password provider
// shared by every profile run. It carries no package-level state, so a
// process can host more than one Engine (spec §9 "no package-level
// globals").
type Engine struct {
	cfg         *config.Configuration
	sink        message.Sink
	filesystems map[string]filesystem.Filesystem
	passwords   password.Provider

	sem     chan struct{}
	metrics *metrics.Collector
	logger  *logging.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

// New creates an Engine. filesystems must contain an entry for every
// filesystem name referenced by cfg.Profiles; New does not open connections
// itself, it only wires already-constructed drivers. The metrics collector
// is built from cfg.Monitoring.Metrics and is a no-op when that's disabled;
// call Start/Close to serve its HTTP endpoint.
func New(cfg *config.Configuration, sink message.Sink, filesystems map[string]filesystem.Filesystem, passwords password.Provider) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if sink == nil {
		sink = message.NullSink{}
	}

	maxProfiles := cfg.Engine.MaxConcurrentProfiles
	if maxProfiles <= 0 {
		maxProfiles = 1
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Monitoring.Metrics.Enabled,
		Port:    cfg.Monitoring.Metrics.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics collector: %w", err)
	}

	logger, err := buildLogger(cfg.Logging, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &Engine{
		cfg:         cfg,
		sink:        sink,
		filesystems: filesystems,
		passwords:   passwords,
		sem:         make(chan struct{}, maxProfiles),
		metrics:     collector,
		logger:      logger,
		busy:        make(map[string]struct{}),
	}, nil
}

// buildLogger turns a LoggingConfig into a logging.Logger writing to stderr
// (or a rotating file, if cfg.File is set) and mirroring every entry into
// sink as a message.Log.
func buildLogger(cfg config.LoggingConfig, sink message.Sink) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	format := logging.Text
	if cfg.Structured || strings.EqualFold(cfg.Format, "json") {
		format = logging.JSON
	}

	var output io.Writer = os.Stderr
	if cfg.File != "" {
		rotator, err := logging.NewRotator(logging.RotationConfig{Filename: cfg.File})
		if err != nil {
			return nil, fmt.Errorf("opening log file %q: %w", cfg.File, err)
		}
		output = rotator
	}

	return logging.New(logging.Config{
		Level:         level,
		Output:        output,
		Format:        format,
		IncludeCaller: false,
		Sink:          sink,
	}), nil
}

// Start begins serving the metrics endpoint, if enabled.
func (e *Engine) Start(ctx context.Context) error {
	return e.metrics.Start(ctx)
}

// Close shuts down the metrics endpoint, if one was started.
func (e *Engine) Close(ctx context.Context) error {
	return e.metrics.Stop(ctx)
}

// Backup runs the backup operation for profileName.
func (e *Engine) Backup(ctx context.Context, handle *run.Handle, profileName string) (*run.Result, error) {
	return e.run(ctx, handle, profileName, func(ctx context.Context, deps ops.Deps) (*run.Result, error) {
		return ops.Backup(ctx, deps)
	})
}

// Restore runs the restore operation for profileName.
func (e *Engine) Restore(ctx context.Context, handle *run.Handle, profileName string) (*run.Result, error) {
	return e.run(ctx, handle, profileName, func(ctx context.Context, deps ops.Deps) (*run.Result, error) {
		return ops.Restore(ctx, deps)
	})
}

// Verify runs the verify operation for profileName. With allFiles it
// re-hashes every object instead of only checking existence and recorded
// object size.
func (e *Engine) Verify(ctx context.Context, handle *run.Handle, profileName string, allFiles bool) (*run.Result, error) {
	return e.run(ctx, handle, profileName, func(ctx context.Context, deps ops.Deps) (*run.Result, error) {
		return ops.Verify(ctx, deps, allFiles)
	})
}

// Clean runs the clean operation for profileName.
func (e *Engine) Clean(ctx context.Context, handle *run.Handle, profileName string) (*run.Result, error) {
	return e.run(ctx, handle, profileName, func(ctx context.Context, deps ops.Deps) (*run.Result, error) {
		return ops.Clean(ctx, deps)
	})
}

// run enforces the per-profile exclusivity and engine-wide concurrency
// limit around fn, then builds the Deps bundle for profileName and invokes
// it. A profile already running rejects with a BusyProfile error rather
// than queuing (spec §4.1); engine-wide concurrency beyond
// MaxConcurrentProfiles blocks on the semaphore instead, honoring ctx
// cancellation while waiting.
func (e *Engine) run(ctx context.Context, handle *run.Handle, profileName string, fn func(context.Context, ops.Deps) (*run.Result, error)) (*run.Result, error) {
	profile, ok := e.cfg.Profiles[profileName]
	if !ok {
		err := errors.New(errors.KindConfig, "unknown profile").WithProfile(profileName).WithComponent("engine")
		return nil, err
	}

	log := e.logger.WithProfile(profileName).WithOperation(handle.Operation).WithComponent("engine")

	if err := e.acquireProfile(profileName); err != nil {
		log.Warn("rejected: profile already has a run in progress")
		return nil, err
	}
	defer e.releaseProfile(profileName)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.New(errors.KindCancelled, "context canceled while waiting for a free profile slot").WithCause(ctx.Err()).WithProfile(profileName).WithComponent("engine")
	}
	defer func() { <-e.sem }()

	deps, err := e.depsFor(profile, profileName, handle)
	if err != nil {
		log.Errorf("failed to resolve dependencies: %v", err)
		return nil, err
	}

	log.Info("run started")
	result, err := fn(ctx, deps)
	if result != nil {
		e.metrics.RecordRun(profileName, handle.Operation, handle.Elapsed(), result.Success(), metrics.RunSummary{
			FilesCompleted: result.Summary.FilesCompleted,
			FilesFailed:    result.Summary.FilesFailed,
			BytesCompleted: result.Summary.BytesCompleted,
		})
		if result.Success() {
			log.Infof("run finished: %d files completed in %s", result.Summary.FilesCompleted, handle.Elapsed())
		} else {
			log.Warnf("run finished with %d file errors", len(result.FileErrors))
		}
	}
	if err != nil {
		log.Errorf("run failed: %v", err)
	}
	return result, err
}

func (e *Engine) acquireProfile(profileName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.busy[profileName]; running {
		return errors.New(errors.KindBusyProfile, "profile already has a run in progress").WithProfile(profileName).WithComponent("engine")
	}
	e.busy[profileName] = struct{}{}
	return nil
}

func (e *Engine) releaseProfile(profileName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, profileName)
}

func (e *Engine) depsFor(profile config.ProfileSpec, profileName string, handle *run.Handle) (ops.Deps, error) {
	sourceFS, ok := e.filesystems[profile.SourceFilesystem]
	if !ok {
		return ops.Deps{}, errors.New(errors.KindConfig, "unknown source filesystem").WithProfile(profileName).WithPath(profile.SourceFilesystem).WithComponent("engine")
	}
	destFS, ok := e.filesystems[profile.DestFilesystem]
	if !ok {
		return ops.Deps{}, errors.New(errors.KindConfig, "unknown dest filesystem").WithProfile(profileName).WithPath(profile.DestFilesystem).WithComponent("engine")
	}

	return ops.Deps{
		Source:      filesystem.Rooted(sourceFS, profile.SourcePath),
		Dest:        filesystem.Rooted(destFS, profile.DestPath),
		Profile:     profile,
		ProfileName: profileName,
		Detector:    hash.NewDetector(e.cfg.Engine.ChunkSizeBytes()),
		Passwords:   e.passwords,
		Handle:      handle,
		Sink:        e.sink,
		Concurrency: workerConcurrency(e.cfg.Engine.WorkerThreads),
	}, nil
}

// workerConcurrency caps the per-profile worker pool at the smaller of the
// host's CPU count, the configured worker_threads, and 8 — the same
// default-min-cap idiom the teacher applies to its connection pool sizing
// (spec §5).
func workerConcurrency(configured int) int {
	n := configured
	if n <= 0 {
		n = 8
	}
	if cpus := runtime.NumCPU(); cpus < n {
		n = cpus
	}
	if n > 8 {
		n = 8
	}
	if n <= 0 {
		n = 1
	}
	return n
}
