// Package spin is the front end of the bot: it validates a request, fetches
// the optional token, runs a session and records the outcome.
package spin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/domain"
	"github.com/EmilLidir/spinbot-discord/internal/session"
	"github.com/EmilLidir/spinbot-discord/internal/store"
	"github.com/EmilLidir/spinbot-discord/internal/token"
	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCooldown matches *CooldownError.
	ErrCooldown = errors.New("cooldown active")
	// ErrBusy means a run for the same account is already in progress.
	ErrBusy = errors.New("a run for this account is already in progress")
	// ErrNotFound means no run has the given ID.
	ErrNotFound = errors.New("run not found")
	// ErrNotRunning means the run already finished.
	ErrNotRunning = errors.New("run is not running")
)

// CooldownError tells the requester how long to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// Unwrap lets errors.Is match ErrCooldown.
func (e *CooldownError) Unwrap() error {
	return ErrCooldown
}

// DefaultMaxActions bounds the action count when Options leaves it unset.
const DefaultMaxActions = 1000

// Runner runs one session. *session.Engine implements it.
type Runner interface {
	Run(ctx context.Context, creds session.Credentials, actions int) (*session.Result, error)
}

// Request is what a requester asks for.
type Request struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Actions  int    `json:"actions"`
}

// Options tunes a Service.
type Options struct {
	MaxActions int
	// Cooldown is the minimum time between two runs of one requester.
	Cooldown time.Duration
	Logger   *slog.Logger
}

// Service runs sessions on behalf of requesters.
type Service struct {
	runner Runner
	tokens token.Provider
	repo   store.Repository
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time

	runs *registry
	wg   sync.WaitGroup
	// base parents background runs so Shutdown can stop them.
	base     context.Context
	stopBase context.CancelFunc
}

// NewService creates a service. tokens may be nil when no token is needed.
func NewService(runner Runner, tokens token.Provider, repo store.Repository, opts Options) *Service {
	if opts.MaxActions <= 0 {
		opts.MaxActions = DefaultMaxActions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if tokens == nil {
		tokens = token.None{}
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		runner:   runner,
		tokens:   tokens,
		repo:     repo,
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
		runs:     newRegistry(opts.Logger),
		base:     base,
		stopBase: stop,
	}
}

// Validate checks a request against the service bounds.
func (s *Service) Validate(req Request) error {
	switch {
	case req.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidRequest)
	case req.Password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidRequest)
	case req.Actions < 1 || req.Actions > s.opts.MaxActions:
		return fmt.Errorf("%w: actions must be between 1 and %d", ErrInvalidRequest, s.opts.MaxActions)
	}
	return nil
}

// Run performs a request and blocks until it is done. The result is nil when
// the session failed before its first action.
func (s *Service) Run(ctx context.Context, requester string, req Request) (*session.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run, err := s.admit(ctx, requester, req, cancel)
	if err != nil {
		return nil, err
	}
	return s.execute(runCtx, run, req)
}

// Start admits a request and performs it in the background. The returned
// run is the initial record; poll Get for progress.
func (s *Service) Start(ctx context.Context, requester string, req Request) (*domain.Run, error) {
	runCtx, cancel := context.WithCancel(s.base)

	run, err := s.admit(ctx, requester, req, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	initial := *run

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		// Errors are recorded on the run.
		_, _ = s.execute(runCtx, run, req)
	}()

	return &initial, nil
}

// admit validates, enforces the cooldown and the per-account lock, and
// records the new run.
func (s *Service) admit(ctx context.Context, requester string, req Request, cancel context.CancelFunc) (*domain.Run, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		Requester: requester,
		Username:  req.Username,
		Requested: req.Actions,
		Status:    domain.RunRunning,
		StartedAt: s.now(),
	}

	s.mu.Lock()
	if last, ok := s.lastRun[requester]; ok && s.opts.Cooldown > 0 {
		if wait := s.opts.Cooldown - run.StartedAt.Sub(last); wait > 0 {
			s.mu.Unlock()
			s.logger.Info("Run refused by cooldown", "requester", requester, "remaining", wait)
			return nil, &CooldownError{Remaining: wait}
		}
	}
	if err := s.runs.register(*run, cancel); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.lastRun[requester] = run.StartedAt
	s.mu.Unlock()

	if err := s.repo.CreateRun(ctx, run); err != nil {
		// The registry still tracks the run; history is best effort.
		s.logger.Error("Failed to record run", "run_id", run.ID, "error", err)
	}
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *domain.Run, req Request) (*session.Result, error) {
	logger := s.logger.With("run_id", run.ID, "requester", run.Requester, "username", run.Username)
	logger.Info("Run started", "actions", req.Actions)

	tok, err := s.tokens.Token(ctx)
	if err != nil {
		if !errors.Is(err, token.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", token.ErrUnavailable, err)
		}
		logger.Error("Token step failed", "error", err)
		s.finish(run, nil, err)
		return nil, err
	}

	creds := session.Credentials{Username: req.Username, Password: req.Password, Token: tok}
	res, err := s.runner.Run(ctx, creds, req.Actions)
	s.finish(run, res, err)

	switch {
	case err == nil:
		logger.Info("Run finished", "status", run.Status, "replied", res.Replied, "missed", res.Missed)
	case res != nil:
		logger.Warn("Run ended early", "status", run.Status, "error", err)
	default:
		logger.Error("Run failed", "error", err)
	}
	return res, err
}

// finish fills the terminal fields of run and stores them.
func (s *Service) finish(run *domain.Run, res *session.Result, err error) {
	run.FinishedAt = s.now()
	run.Status = outcome(res, err)
	if err != nil {
		run.Error = err.Error()
	}
	if res != nil {
		run.Attempted = res.Attempted
		run.Replied = res.Replied
		run.Missed = res.Missed
		run.Rewards = res.Rewards
	}

	s.runs.finish(*run)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.FinishRun(ctx, run); err != nil {
		s.logger.Error("Failed to record run outcome", "run_id", run.ID, "error", err)
	}
}

func outcome(res *session.Result, err error) domain.RunStatus {
	switch {
	case err != nil && res != nil && res.Partial:
		return domain.RunPartial
	case err != nil && errors.Is(err, context.Canceled):
		return domain.RunCanceled
	case err != nil:
		return domain.RunFailed
	case res.Canceled:
		return domain.RunCanceled
	default:
		return domain.RunCompleted
	}
}

// Cancel stops a running run between two actions.
func (s *Service) Cancel(id string) error {
	known, running := s.runs.cancel(id)
	switch {
	case running:
		return nil
	case known:
		return ErrNotRunning
	}

	run, err := s.repo.GetRun(context.Background(), id)
	if err != nil {
		return err
	}
	if run == nil {
		return ErrNotFound
	}
	// Recorded by another process or before a restart.
	return ErrNotRunning
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Run, error) {
	if run, ok := s.runs.get(id); ok {
		return &run, nil
	}
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNotFound
	}
	return run, nil
}

// List returns recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	runs, err := s.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, r := range runs {
		if live, ok := s.runs.get(r.ID); ok {
			runs[i] = &live
		}
	}
	return runs, nil
}

// Forget drops finished runs that ended before cutoff from memory. It has
// the signature of store.PruneCallback.
func (s *Service) Forget(cutoff time.Time) {
	if n := s.runs.forget(cutoff); n > 0 {
		s.logger.Debug("Forgot finished runs", "count", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for requester, last := range s.lastRun {
		if s.now().Sub(last) > s.opts.Cooldown {
			delete(s.lastRun, requester)
		}
	}
}

// Shutdown cancels background runs and waits for them to record their
// outcome, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopBase()
	s.runs.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
