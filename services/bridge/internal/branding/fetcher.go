// Package branding downloads an optional look-and-feel bundle once per process
// and overlays its contents onto the branding directory served to browsers.
package branding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/keptn/bridge/pkg/metrics"
	helpers "github.com/keptn/bridge/pkg/shared"
)

const (
	DefaultDelay    = 90 * time.Second
	DefaultMaxBytes = 64 << 20
)

var (
	ErrNotConfigured = errors.New("branding url not configured")
	ErrTooLarge      = errors.New("branding bundle exceeds size limit")
	ErrCanceled      = errors.New("branding download canceled")
)

type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateFetching
	StateExtracting
	StateDone
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Outcome int

const (
	Success Outcome = iota
	NetworkError
	ExtractError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NetworkError:
		return "network_error"
	case ExtractError:
		return "extract_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of the single fetch attempt.
type Result struct {
	Outcome Outcome
	Err     error
	// Files lists the archive entries written to the branding directory, slash separated.
	Files []string
}

type Options struct {
	URL        string
	TargetDir  string
	StagingDir string
	Delay      time.Duration
	Timeout    time.Duration
	MaxBytes   int64
	Client     *http.Client
	Logger     *slog.Logger
}

// Fetcher runs at most one download and extraction per lifetime.
type Fetcher struct {
	opts        Options
	stagingFile string

	state        atomic.Int32
	scheduleOnce sync.Once
	runOnce      sync.Once
	doneOnce     sync.Once
	done         chan struct{}

	mu     sync.Mutex
	result *Result
}

func New(opts Options) *Fetcher {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}
	opts.Logger = opts.Logger.With("component", "branding")

	return &Fetcher{
		opts:        opts,
		stagingFile: filepath.Join(opts.StagingDir, "lookandfeel-"+uuid.NewString()+".zip"),
		done:        make(chan struct{}),
	}
}

// Enabled reports whether a bundle URL is configured.
func (f *Fetcher) Enabled() bool { return f.opts.URL != "" }

func (f *Fetcher) State() State { return State(f.state.Load()) }

// Done is closed once the fetcher reaches a terminal state.
func (f *Fetcher) Done() <-chan struct{} { return f.done }

func (f *Fetcher) TargetDir() string   { return f.opts.TargetDir }
func (f *Fetcher) StagingFile() string { return f.stagingFile }

// Result returns the attempt's result once it has completed.
func (f *Fetcher) Result() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return Result{}, false
	}
	return *f.result, true
}

// Schedule arms the one-shot timer and returns immediately. Without a URL the
// fetcher stays idle. Cancelling ctx before the timer fires cancels the attempt;
// cancelling it during the download aborts the request.
func (f *Fetcher) Schedule(ctx context.Context) {
	if !f.Enabled() {
		f.opts.Logger.Debug("No branding URL configured, keeping default assets")
		return
	}

	f.scheduleOnce.Do(func() {
		f.setState(StateScheduled)
		f.opts.Logger.Info("Scheduled branding download", "url", f.opts.URL, "delay", f.opts.Delay)

		go func() {
			timer := time.NewTimer(f.opts.Delay)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				if f.state.CompareAndSwap(int32(StateScheduled), int32(StateCanceled)) {
					f.opts.Logger.Info("Branding download canceled before it started")
					f.finish()
				}
			case <-timer.C:
				f.Run(ctx)
			}
		}()
	})
}

// Run performs the download and extraction synchronously. Only the first call
// does any work; later calls wait for it and return the same result. A fetcher
// whose schedule was canceled never downloads.
func (f *Fetcher) Run(ctx context.Context) Result {
	if !f.Enabled() {
		return Result{Outcome: NetworkError, Err: ErrNotConfigured}
	}

	f.runOnce.Do(func() {
		if !f.begin() {
			return
		}
		res := f.attempt(ctx)
		f.mu.Lock()
		f.result = &res
		f.mu.Unlock()
		metrics.IncBrandingOutcome(res.Outcome.String())
		f.finish()
	})

	<-f.done
	if res, ok := f.Result(); ok {
		return res
	}
	return Result{Outcome: NetworkError, Err: ErrCanceled}
}

// begin moves the fetcher into Fetching unless it already reached a terminal
// state. Canceled is only ever set together with closing done.
func (f *Fetcher) begin() bool {
	for _, from := range []State{StateIdle, StateScheduled} {
		if f.state.CompareAndSwap(int32(from), int32(StateFetching)) {
			return true
		}
	}
	return false
}

func (f *Fetcher) attempt(ctx context.Context) Result {
	logger := f.opts.Logger
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	logger.Info("Downloading custom look-and-feel bundle", "url", f.opts.URL, "staging", f.stagingFile)
	start := time.Now()

	if err := f.download(ctx); err != nil {
		f.setState(StateFailed)
		logger.Error("Branding download failed, keeping current assets", "error", err)
		return Result{Outcome: NetworkError, Err: err}
	}
	defer f.removeStaging()

	f.setState(StateExtracting)
	files, err := Extract(f.stagingFile, f.opts.TargetDir)
	if err != nil {
		f.setState(StateFailed)
		logger.Error("Branding extraction failed, keeping current assets", "error", err)
		return Result{Outcome: ExtractError, Err: err}
	}

	f.setState(StateDone)
	logger.Info("Applied look-and-feel bundle", "files", len(files), "target", f.opts.TargetDir, "duration", time.Since(start))
	return Result{Outcome: Success, Files: files}
}

func (f *Fetcher) download(ctx context.Context) error {
	if err := os.MkdirAll(f.opts.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", f.opts.URL, err)
	}
	defer helpers.CloseOrLog(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("get %s: unexpected status %d", f.opts.URL, resp.StatusCode)
	}

	file, err := os.OpenFile(f.stagingFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	// one extra byte tells an exact-limit body apart from an oversized one
	n, err := io.Copy(file, io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err == nil && n > f.opts.MaxBytes {
		err = ErrTooLarge
	}
	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		f.removeStaging()
		return fmt.Errorf("write staging file: %w", err)
	}
	return nil
}

func (f *Fetcher) removeStaging() {
	if err := os.Remove(f.stagingFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.opts.Logger.Warn("Failed to remove staging archive", "path", f.stagingFile, "error", err)
	}
}

func (f *Fetcher) setState(s State) { f.state.Store(int32(s)) }

func (f *Fetcher) finish() {
	f.doneOnce.Do(func() { close(f.done) })
}
