// Package session drives one game server session: open the transport, log
// in, run a bounded number of lucky wheel actions and collect their rewards.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/protocol"
	"github.com/EmilLidir/spinbot-discord/internal/reward"
	"github.com/EmilLidir/spinbot-discord/internal/transport"
)

// State is the lifecycle position of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	HandshakeSent
	Authenticated
	ActionLoop
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case HandshakeSent:
		return "handshake_sent"
	case Authenticated:
		return "authenticated"
	case ActionLoop:
		return "action_loop"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DialFunc opens the transport for one session.
type DialFunc func(ctx context.Context) (transport.Transport, error)

// WebsocketDialer returns a DialFunc opening a websocket to endpoint.
func WebsocketDialer(endpoint string, opts transport.Options) DialFunc {
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.Dial(ctx, endpoint, opts)
	}
}

// Result is what a session collected.
type Result struct {
	Rewards   reward.Snapshot
	Requested int
	Attempted int
	// Replied counts actions whose reply marker arrived.
	Replied int
	// Missed counts actions that saw no usable reply within budget.
	Missed int
	// Partial is set when the loop was cut short by a lost connection.
	Partial bool
	// Canceled is set when the caller stopped the loop between actions.
	Canceled bool
	Duration time.Duration
}

// Engine runs sessions. It holds no per-session state and may be shared.
type Engine struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger
}

// NewEngine creates an engine dialing through dial.
func NewEngine(cfg Config, dial DialFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, dial: dial, logger: logger}
}

// Run logs in with creds and performs actions lucky wheel actions.
//
// Failures before the first action return a nil Result. A connection lost
// during the action loop returns the rewards collected so far in a Result
// marked Partial together with an error matching ErrConnectionLost. Canceling
// ctx stops the loop between actions and returns the collected rewards with
// no error.
func (e *Engine) Run(ctx context.Context, creds Credentials, actions int) (*Result, error) {
	s := &session{
		cfg:     e.cfg,
		creds:   creds,
		state:   Disconnected,
		backlog: newBacklog(e.cfg.BacklogSize),
		logger:  e.logger.With("username", creds.Username),
	}
	started := time.Now()

	if err := s.open(ctx, e.dial); err != nil {
		return nil, err
	}
	defer s.close()

	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	if err := s.drain(); err != nil {
		return nil, err
	}

	res, err := s.loop(ctx, actions)
	res.Duration = time.Since(started)
	return res, err
}

// session is the state of one Run. It is confined to the calling goroutine.
type session struct {
	cfg     Config
	creds   Credentials
	conn    transport.Transport
	state   State
	backlog *backlog
	logger  *slog.Logger
}

func (s *session) open(ctx context.Context, dial DialFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = Connecting
	s.logger.Info("Connecting to game server")

	conn, err := dial(ctx)
	if err != nil {
		s.state = Closed
		s.logger.Error("Failed to connect", "error", err)
		return fmt.Errorf("open transport: %w", err)
	}
	s.conn = conn
	s.logger.Info("Connected to game server")
	return nil
}

func (s *session) close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Failed to close transport", "error", err)
	}
	s.state = Closed
	s.logger.Info("Session closed")
}

func (s *session) authenticate(ctx context.Context) error {
	declare, err := protocol.DeclareUsername(s.cfg.Zone, s.creds.Username)
	if err != nil {
		return err
	}
	login, err := protocol.Login(s.cfg.Zone, protocol.LoginParams{
		Username: s.creds.Username,
		Password: s.creds.Password,
		Lang:     s.cfg.Lang,
		Token:    s.creds.Token,
	})
	if err != nil {
		return err
	}

	steps := []string{
		protocol.VersionCheck(s.cfg.Version),
		protocol.ZoneLogin(s.cfg.Zone, s.cfg.Lang),
		protocol.Encode(declare),
		protocol.Encode(login),
	}
	for i, frame := range steps {
		if i > 0 {
			if err := pause(ctx, s.cfg.HandshakeStepDelay); err != nil {
				return err
			}
		}
		if err := s.conn.Send(frame); err != nil {
			return fmt.Errorf("%w: handshake step %d: %w", ErrConnectionLost, i+1, err)
		}
	}
	s.state = HandshakeSent
	s.logger.Info("Login sent", "credentials", s.creds)

	deadline := time.Now().Add(s.cfg.AuthTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Warn("No login reply", "timeout", s.cfg.AuthTimeout, "discarded", s.backlog.seen, "recent", s.backlog.recent())
			return fmt.Errorf("%w after %s (%d other frames, last %q)", ErrAuthTimeout, s.cfg.AuthTimeout, s.backlog.seen, s.backlog.last())
		}

		ev := s.next(min(s.cfg.AuthPollInterval, remaining))
		switch ev.kind {
		case eventMatched:
			env := ev.frame.Envelope
			if env.Direction == protocol.Inbound && env.Command == protocol.CommandLogin && env.Room == protocol.DefaultRoom {
				if env.Status == 0 {
					s.state = Authenticated
					s.logger.Info("Login accepted")
					return nil
				}
				s.logger.Warn("Login rejected", "status", env.Status)
				return &AuthConflictError{Status: env.Status}
			}
			s.backlog.add(ev.frame.Raw)
		case eventUnrelated:
			s.backlog.add(ev.frame.Raw)
		case eventTimedOut:
		case eventFault:
			s.logger.Debug("Receive failed during login", "error", ev.err)
		case eventClosed:
			return fmt.Errorf("%w during login: %w", ErrConnectionLost, ev.err)
		}
	}
}

// drain discards whatever the server pushed after login so it is not taken
// for an action reply. It never runs past the drain window.
func (s *session) drain() error {
	deadline := time.Now().Add(s.cfg.DrainWindow)
	discarded := 0
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Debug("Drained backlog", "discarded", discarded)
			return nil
		}
		ev := s.next(remaining)
		switch ev.kind {
		case eventClosed:
			return fmt.Errorf("%w after login: %w", ErrConnectionLost, ev.err)
		case eventMatched, eventUnrelated:
			discarded++
		case eventTimedOut:
		case eventFault:
			s.logger.Debug("Receive failed while draining", "error", ev.err)
		}
	}
}

func (s *session) loop(ctx context.Context, actions int) (*Result, error) {
	s.state = ActionLoop
	ledger := reward.NewLedger()
	res := &Result{Requested: actions}
	spin := protocol.Encode(protocol.Spin(s.cfg.Zone))

	s.logger.Info("Starting actions", "count", actions)
	for i := 1; i <= actions; i++ {
		// The delay runs from the end of the previous wait, not from its send.
		if err := pause(ctx, s.cfg.ActionDelay); err != nil {
			s.logger.Info("Actions canceled", "done", i-1, "of", actions, "reason", err)
			res.Canceled = true
			break
		}

		res.Attempted++
		if err := s.conn.Send(spin); err != nil {
			s.logger.Error("Failed to send action", "action", i, "of", actions, "error", err)
			res.Partial = true
			res.Rewards = ledger.Snapshot()
			return res, fmt.Errorf("%w: action %d/%d: %w", ErrConnectionLost, i, actions, err)
		}

		replied, err := s.awaitReply(i, actions, ledger)
		if err != nil {
			res.Partial = true
			res.Rewards = ledger.Snapshot()
			return res, err
		}
		if replied {
			res.Replied++
		} else {
			res.Missed++
		}
	}

	res.Rewards = ledger.Snapshot()
	s.logger.Info("Actions finished",
		"attempted", res.Attempted,
		"replied", res.Replied,
		"missed", res.Missed,
		"categories", len(res.Rewards),
	)
	return res, nil
}

// awaitReply waits for the reply to action i. It reports false when the
// budget ran out or the reply was unreadable, and an error only when the
// connection is gone.
func (s *session) awaitReply(i, total int, ledger *reward.Ledger) (bool, error) {
	deadline := time.Now().Add(s.cfg.ActionTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Warn("No reward observed", "action", i, "of", total, "timeout", s.cfg.ActionTimeout)
			return false, nil
		}

		ev := s.next(remaining)
		switch ev.kind {
		case eventMatched:
			env := ev.frame.Envelope
			if !env.Is(protocol.CommandSpin, protocol.DefaultRoom) {
				if env.Direction == protocol.Inbound && env.Command == protocol.CommandSpin {
					s.logger.Warn("Action answered with error status", "action", i, "of", total, "status", env.Status)
				}
				continue
			}
			if ev.frame.Err != nil {
				s.logger.Warn("Unreadable action reply", "action", i, "of", total, "error", ev.frame.Err)
				return false, nil
			}
			s.logger.Info("Action reply received", "action", i, "of", total)
			s.collect(env.Payload, ledger)
			return true, nil
		case eventUnrelated, eventTimedOut:
		case eventFault:
			s.logger.Warn("Receive failed, still waiting", "action", i, "of", total, "error", ev.err)
		case eventClosed:
			s.logger.Error("Connection lost", "action", i, "of", total, "error", ev.err)
			return false, fmt.Errorf("%w: action %d/%d: %w", ErrConnectionLost, i, total, ev.err)
		}
	}
}

func (s *session) collect(payload []byte, ledger *reward.Ledger) {
	items, err := reward.ParseItems(payload)
	if err != nil {
		s.logger.Warn("Reward payload anomaly", "error", err)
	}
	for _, item := range items {
		r, ok := reward.Classify(item)
		if !ok {
			s.logger.Warn("Reward item contributes nothing", "tag", item.Tag, "data", item.Data)
			continue
		}
		if r.Fallback {
			s.logger.Warn("Reward item classified by fallback", "tag", item.Tag, "data", item.Data, "category", r.Category, "amount", r.Amount)
		}
		ledger.Add(r)
		s.logger.Debug("Reward", "category", r.Category, "amount", r.Amount)
	}
}

// pause waits d or until ctx ends, whichever comes first.
func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type eventKind int

const (
	eventMatched eventKind = iota
	eventUnrelated
	eventTimedOut
	eventClosed
	// eventFault is any other receive error; callers keep waiting.
	eventFault
)

type event struct {
	kind  eventKind
	frame protocol.Frame
	err   error
}

// next receives and decodes one frame, folding transport errors into the
// event kind so callers branch on a single switch.
func (s *session) next(timeout time.Duration) event {
	raw, err := s.conn.Receive(timeout)
	switch {
	case err == nil:
		f := protocol.Decode(raw)
		if f.Kind == protocol.Matched {
			return event{kind: eventMatched, frame: f}
		}
		return event{kind: eventUnrelated, frame: f}
	case errors.Is(err, transport.ErrTimeout):
		return event{kind: eventTimedOut}
	case errors.Is(err, transport.ErrClosed):
		return event{kind: eventClosed, err: err}
	default:
		return event{kind: eventFault, err: err}
	}
}
