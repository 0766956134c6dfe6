package spin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/domain"
)

type entry struct {
	run    domain.Run
	cancel context.CancelFunc
}

// registry tracks runs started by this process. Finished runs stay until
// the history retention forgets them, so a lost history write does not lose
// the outcome.
type registry struct {
	mu         sync.RWMutex
	runs       map[string]*entry
	byUsername map[string]string
	logger     *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		runs:       make(map[string]*entry),
		byUsername: make(map[string]string),
		logger:     logger,
	}
}

// register adds a running run. It fails with ErrBusy while another run for
// the same game account is in progress.
func (m *registry) register(run domain.Run, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, busy := m.byUsername[run.Username]; busy {
		m.logger.Warn("Run already in progress", "username", run.Username, "run_id", id)
		return ErrBusy
	}
	m.runs[run.ID] = &entry{run: run, cancel: cancel}
	m.byUsername[run.Username] = run.ID
	m.logger.Debug("Run registered", "run_id", run.ID, "username", run.Username)
	return nil
}

// finish stores the final state of a run and releases its account.
func (m *registry) finish(run domain.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.runs[run.ID]
	if !ok {
		return
	}
	e.run = run
	e.cancel = nil
	if m.byUsername[run.Username] == run.ID {
		delete(m.byUsername, run.Username)
	}
}

// get returns a copy of the run.
func (m *registry) get(id string) (domain.Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return e.run, true
}

// cancel asks a running run to stop. It reports whether the run was known
// and whether it was still running.
func (m *registry) cancel(id string) (known, running bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return false, false
	}
	if e.cancel == nil {
		return true, false
	}
	e.cancel()
	m.logger.Info("Run cancel requested", "run_id", id)
	return true, true
}

// cancelAll stops every running run.
func (m *registry) cancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.runs {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

// forget drops finished runs that ended before cutoff.
func (m *registry) forget(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.runs {
		if e.cancel == nil && e.run.FinishedAt.Before(cutoff) {
			delete(m.runs, id)
			n++
		}
	}
	return n
}
