package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/reward"
	"github.com/EmilLidir/spinbot-discord/internal/transport"
)

const (
	loginOK  = "%xt%lli%1%0%{}%"
	spinSent = "%xt%EmpireEx_2%lws%1%{\"LWET\":1}%"
)

// fakeConn is an in-memory transport. The server side is a reply func
// called synchronously on every Send.
type fakeConn struct {
	mu      sync.Mutex
	inbox   chan string
	sent    []string
	sentAt  []time.Time
	dropped bool
	closed  bool
	reply   func(c *fakeConn, frame string)
}

func newFakeConn(reply func(c *fakeConn, frame string)) *fakeConn {
	return &fakeConn{inbox: make(chan string, 64), reply: reply}
}

func (c *fakeConn) push(frames ...string) {
	for _, f := range frames {
		c.inbox <- f
	}
}

// drop simulates the peer going away.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
}

func (c *fakeConn) Send(frame string) error {
	c.mu.Lock()
	if c.dropped || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: write: broken pipe", transport.ErrClosed)
	}
	c.sent = append(c.sent, frame)
	c.sentAt = append(c.sentAt, time.Now())
	c.mu.Unlock()

	if c.reply != nil {
		c.reply(c, frame)
	}
	return nil
}

func (c *fakeConn) Receive(timeout time.Duration) (string, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	default:
	}
	c.mu.Lock()
	gone := c.dropped || c.closed
	c.mu.Unlock()
	if gone {
		return "", transport.ErrClosed
	}
	if timeout <= 0 {
		return "", transport.ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-c.inbox:
		return f, nil
	case <-timer.C:
		return "", transport.ErrTimeout
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// spinTimes returns when each action was sent.
func (c *fakeConn) spinTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for i, f := range c.sent {
		if f == spinSent {
			out = append(out, c.sentAt[i])
		}
	}
	return out
}

func (c *fakeConn) spinsSent() int {
	n := 0
	for _, f := range c.sentFrames() {
		if f == spinSent {
			n++
		}
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeStepDelay = 0
	cfg.AuthTimeout = 200 * time.Millisecond
	cfg.AuthPollInterval = 20 * time.Millisecond
	cfg.DrainWindow = 20 * time.Millisecond
	cfg.ActionTimeout = 100 * time.Millisecond
	cfg.ActionDelay = time.Millisecond
	return cfg
}

func newTestEngine(conn *fakeConn) *Engine {
	dial := func(context.Context) (transport.Transport, error) { return conn, nil }
	return NewEngine(testConfig(), dial, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func spinReply(items string) string {
	return "%xt%lws%1%0%{\"R\":[" + items + "]}%"
}

func isLogin(frame string) bool {
	return strings.HasPrefix(frame, "%xt%EmpireEx_2%lli%")
}

// server answers the login and then each action with replies[n], where n
// counts actions from 1. An empty reply leaves the action unanswered.
func server(replies map[int][]string) func(c *fakeConn, frame string) {
	n := 0
	return func(c *fakeConn, frame string) {
		switch {
		case isLogin(frame):
			c.push(loginOK)
		case frame == spinSent:
			n++
			c.push(replies[n]...)
		}
	}
}

var testCreds = Credentials{Username: "alice", Password: "hunter2"}

func TestRunAuthTimeout(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, frame string) {
		c.push("%xt%gbd%1%0%{}%", "garbage")
	})

	res, err := newTestEngine(conn).Run(context.Background(), testCreds, 3)
	if !errors.Is(err, ErrAuthTimeout) {
		t.Fatalf("Run error = %v, want ErrAuthTimeout", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	if n := conn.spinsSent(); n != 0 {
		t.Errorf("sent %d actions before authentication", n)
	}
	if got := len(conn.sentFrames()); got != 4 {
		t.Errorf("sent %d handshake frames, want 4", got)
	}
	if !strings.Contains(err.Error(), "garbage") {
		t.Errorf("error should carry the last discarded frame: %v", err)
	}
}

func TestRunSkipsMissedAction(t *testing.T) {
	conn := newFakeConn(server(map[int][]string{
		1: {spinReply(`["STP",42],["U",[227,5]]`)},
		2: {"%xt%gbd%1%0%{}%"},
		3: {spinReply(`["STP",8],["C2",100]`)},
	}))

	res, err := newTestEngine(conn).Run(context.Background(), testCreds, 3)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Partial || res.Canceled {
		t.Errorf("loop should complete normally, got %+v", res)
	}
	if res.Attempted != 3 || res.Replied != 2 || res.Missed != 1 {
		t.Errorf("counts = attempted %d replied %d missed %d", res.Attempted, res.Replied, res.Missed)
	}
	want := reward.Snapshot{
		reward.CategorySceattas:           50,
		reward.CategoryDefenderOfTheNorth: 5,
		reward.CategoryRubies:             100,
	}
	if len(res.Rewards) != len(want) {
		t.Fatalf("rewards = %v, want %v", res.Rewards, want)
	}
	for k, v := range want {
		if res.Rewards[k] != v {
			t.Errorf("%s = %d, want %d", k, res.Rewards[k], v)
		}
	}
}

func TestRunConnectionLost(t *testing.T) {
	// The peer goes away either right after the second reply, so the third
	// send fails, or after the third send, so the wait for its reply fails.
	for i, name := range []string{"send fails", "receive fails"} {
		t.Run(name, func(t *testing.T) {
			n := 0
			conn := newFakeConn(func(c *fakeConn, frame string) {
				switch {
				case isLogin(frame):
					c.push(loginOK)
				case frame == spinSent:
					n++
					if n < 3 {
						c.push(spinReply(`["STP",10]`))
						if n == 2 && i == 0 {
							c.drop()
						}
						return
					}
					c.drop()
				}
			})

			res, err := newTestEngine(conn).Run(context.Background(), testCreds, 5)
			if !errors.Is(err, ErrConnectionLost) {
				t.Fatalf("Run error = %v, want ErrConnectionLost", err)
			}
			if !errors.Is(err, transport.ErrClosed) {
				t.Errorf("error should wrap the transport cause: %v", err)
			}
			if res == nil || !res.Partial {
				t.Fatalf("expected a partial result, got %+v", res)
			}
			if got := res.Rewards.Total(reward.CategorySceattas); got != 20 {
				t.Errorf("Sceattas = %d, want 20 from actions 1-2", got)
			}
			if res.Replied != 2 {
				t.Errorf("replied = %d, want 2", res.Replied)
			}
			if res.Attempted != 3 {
				t.Errorf("attempted = %d, want 3", res.Attempted)
			}
		})
	}
}

func TestRunAuthConflict(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, frame string) {
		if isLogin(frame) {
			c.push("%xt%lli%1%453%{}%")
		}
	})

	res, err := newTestEngine(conn).Run(context.Background(), testCreds, 1)
	if !errors.Is(err, ErrAuthConflict) {
		t.Fatalf("Run error = %v, want ErrAuthConflict", err)
	}
	var conflict *AuthConflictError
	if !errors.As(err, &conflict) || conflict.Status != 453 {
		t.Errorf("expected AuthConflictError with status 453, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	if conn.spinsSent() != 0 {
		t.Error("no action may be sent after a rejected login")
	}
}

func TestRunDialFailure(t *testing.T) {
	dial := func(context.Context) (transport.Transport, error) {
		return nil, fmt.Errorf("dial wss://example.test: %w", transport.ErrConnectTimeout)
	}
	e := NewEngine(testConfig(), dial, nil)

	res, err := e.Run(context.Background(), testCreds, 1)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Run error = %v, want ErrConnectTimeout", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
}

func TestRunDrainsStaleReplies(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, frame string) {
		switch {
		case isLogin(frame):
			c.push(loginOK, spinReply(`["STP",999]`), "%xt%gbd%1%0%{}%")
		case frame == spinSent:
			c.push(spinReply(`["STP",1]`))
		}
	})

	res, err := newTestEngine(conn).Run(context.Background(), testCreds, 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := res.Rewards.Total(reward.CategorySceattas); got != 2 {
		t.Errorf("Sceattas = %d, stale reply must not be counted", got)
	}
}

func TestRunMalformedReplyDoesNotAbort(t *testing.T) {
	conn := newFakeConn(server(map[int][]string{
		1: {"%xt%lws%1%0%{not json%"},
		2: {spinReply(`["STP",2],["ZZ",[1,4]],"junk"`)},
	}))

	res, err := newTestEngine(conn).Run(context.Background(), testCreds, 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Missed != 1 || res.Replied != 1 {
		t.Errorf("replied %d missed %d, want 1 and 1", res.Replied, res.Missed)
	}
	if got := res.Rewards.Total(reward.CategorySceattas); got != 2 {
		t.Errorf("Sceattas = %d, want 2", got)
	}
	if got := res.Rewards.Total(reward.UnknownPrefix + "ZZ"); got != 4 {
		t.Errorf("unknown tag total = %d, want 4", got)
	}
}

func TestRunIgnoresErrorStatusReply(t *testing.T) {
	conn := newFakeConn(server(map[int][]string{
		1: {"%xt%lws%1%7%{}%", "%xt%lws%2%0%{}%", spinReply(`["SLWT",3]`)},
	}))

	res, err := newTestEngine(conn).Run(context.Background(), testCreds, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Replied != 1 {
		t.Fatalf("replied = %d, want 1", res.Replied)
	}
	if got := res.Rewards.Total(reward.CategoryTickets); got != 3 {
		t.Errorf("Tickets = %d, want 3", got)
	}
}

func TestRunCanceledBetweenActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	conn := newFakeConn(func(c *fakeConn, frame string) {
		switch {
		case isLogin(frame):
			c.push(loginOK)
		case frame == spinSent:
			n++
			if n == 2 {
				cancel()
			}
			c.push(spinReply(`["STP",1]`))
		}
	})

	res, err := newTestEngine(conn).Run(ctx, testCreds, 10)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Canceled {
		t.Error("result should be marked canceled")
	}
	if res.Attempted != 2 {
		t.Errorf("attempted = %d, want 2", res.Attempted)
	}
	if got := res.Rewards.Total(reward.CategorySceattas); got != 2 {
		t.Errorf("Sceattas = %d, want 2", got)
	}
}

func TestRunPacesAfterSlowAction(t *testing.T) {
	conn := newFakeConn(server(map[int][]string{
		2: {spinReply(`["STP",1]`)},
	}))
	cfg := testConfig()
	cfg.ActionTimeout = 100 * time.Millisecond
	cfg.ActionDelay = 150 * time.Millisecond
	dial := func(context.Context) (transport.Transport, error) { return conn, nil }
	e := NewEngine(cfg, dial, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := e.Run(context.Background(), testCreds, 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Missed != 1 || res.Replied != 1 {
		t.Fatalf("replied %d missed %d, want 1 and 1", res.Replied, res.Missed)
	}

	sends := conn.spinTimes()
	if len(sends) != 2 {
		t.Fatalf("sent %d actions, want 2", len(sends))
	}
	// Action 1 waits its full budget, then the delay starts.
	if gap := sends[1].Sub(sends[0]); gap < cfg.ActionTimeout+cfg.ActionDelay {
		t.Errorf("gap between actions = %s, want at least %s", gap, cfg.ActionTimeout+cfg.ActionDelay)
	}
}

// floodConn has a frame ready on every receive.
type floodConn struct{}

func (floodConn) Send(string) error { return nil }

func (floodConn) Receive(time.Duration) (string, error) { return "%xt%gbd%1%0%{}%", nil }

func (floodConn) Close() error { return nil }

func TestDrainStopsAtWindow(t *testing.T) {
	cfg := testConfig()
	cfg.DrainWindow = 50 * time.Millisecond
	s := &session{
		cfg:     cfg,
		conn:    floodConn{},
		backlog: newBacklog(cfg.BacklogSize),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	done := make(chan error, 1)
	started := time.Now()
	go func() { done <- s.drain() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("drain failed: %v", err)
		}
		if elapsed := time.Since(started); elapsed < cfg.DrainWindow {
			t.Errorf("drain returned after %s, before its %s window", elapsed, cfg.DrainWindow)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain kept running past its window while frames kept arriving")
	}
}

func TestRunCanceledDuringHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn(server(nil))
	cfg := testConfig()
	cfg.HandshakeStepDelay = time.Minute
	dial := func(context.Context) (transport.Transport, error) { return conn, nil }
	e := NewEngine(cfg, dial, slog.New(slog.NewTextHandler(io.Discard, nil)))

	time.AfterFunc(20*time.Millisecond, cancel)
	started := time.Now()
	res, err := e.Run(ctx, testCreds, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("cancel took %s to take effect", elapsed)
	}
	if got := len(conn.sentFrames()); got != 1 {
		t.Errorf("sent %d handshake frames, want 1", got)
	}
}

func TestRunClosesTransport(t *testing.T) {
	conn := newFakeConn(server(map[int][]string{1: {spinReply(`["STP",1]`)}}))
	if _, err := newTestEngine(conn).Run(context.Background(), testCreds, 1); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		t.Error("transport left open")
	}
}

func TestHandshakeOrder(t *testing.T) {
	conn := newFakeConn(server(nil))
	if _, err := newTestEngine(conn).Run(context.Background(), testCreds, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sent := conn.sentFrames()
	if len(sent) != 4 {
		t.Fatalf("sent %d frames, want 4", len(sent))
	}
	prefixes := []string{
		"<msg t='sys'><body action='verChk'",
		"<msg t='sys'><body action='login'",
		"%xt%EmpireEx_2%vln%1%",
		"%xt%EmpireEx_2%lli%1%",
	}
	for i, p := range prefixes {
		if !strings.HasPrefix(sent[i], p) {
			t.Errorf("frame %d = %q, want prefix %q", i+1, sent[i], p)
		}
	}
}

func TestCredentialsLogValueRedacts(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("login", "credentials", Credentials{Username: "alice", Password: "hunter2", Token: "tok-secret"})

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "tok-secret") {
		t.Errorf("secrets leaked into log: %s", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("username missing from log: %s", out)
	}
}

func TestBacklog(t *testing.T) {
	b := newBacklog(3)
	if b.last() != "" || len(b.recent()) != 0 {
		t.Fatal("empty backlog should report nothing")
	}
	for _, f := range []string{"a", "b", "c", "d"} {
		b.add(f)
	}
	if got := strings.Join(b.recent(), ","); got != "b,c,d" {
		t.Errorf("recent = %s, want b,c,d", got)
	}
	if b.last() != "d" || b.seen != 4 {
		t.Errorf("last %q seen %d", b.last(), b.seen)
	}

	b.add(strings.Repeat("x", 1000))
	if got := len(b.last()); got != maxBacklogFrame+3 {
		t.Errorf("long frame kept with length %d", got)
	}
}

func TestStateString(t *testing.T) {
	if ActionLoop.String() != "action_loop" || State(42).String() != "state(42)" {
		t.Error("unexpected state names")
	}
}
