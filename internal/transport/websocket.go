package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultConnectTimeout = 20 * time.Second
	defaultSendTimeout    = 10 * time.Second
	defaultReadLimit      = 16 << 20
	frameQueueSize        = 256
)

// Options configures Dial.
type Options struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	// ReadLimit caps a single inbound frame. Frames above it close the
	// connection.
	ReadLimit int64
	// Origin is sent as the Origin header when set.
	Origin string
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Conn is a Transport over a websocket.
//
// A read context that expires closes a websocket.Conn, so reads run in a
// dedicated goroutine feeding a queue and Receive applies its timeout to the
// queue instead.
type Conn struct {
	ws          *websocket.Conn
	frames      chan string
	closing     chan struct{}
	done        chan struct{}
	readErr     error
	sendTimeout time.Duration
	logger      *slog.Logger
	closeOnce   sync.Once
	closeErr    error
}

var _ Transport = (*Conn)(nil)

// Dial opens a websocket to endpoint.
func Dial(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var header http.Header
	if opts.Origin != "" {
		header = http.Header{"Origin": []string{opts.Origin}}
	}

	ws, resp, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrConnectTimeout, opts.ConnectTimeout, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err)
	}
	ws.SetReadLimit(opts.ReadLimit)

	c := &Conn{
		ws:          ws,
		frames:      make(chan string, frameQueueSize),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		sendTimeout: opts.SendTimeout,
		logger:      opts.Logger,
	}
	go c.readLoop()

	opts.Logger.Debug("Websocket connected", "endpoint", endpoint)
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.frames)

	for {
		typ, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.readErr = err
			return
		}

		frame := string(data)
		if typ == websocket.MessageBinary {
			frame = strings.ToValidUTF8(frame, "")
		}

		select {
		case c.frames <- frame:
		case <-c.closing:
			return
		}
	}
}

// Send writes frame as a text message.
func (c *Conn) Send(frame string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	if err := c.ws.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive returns the next queued frame.
func (c *Conn) Receive(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		select {
		case frame, ok := <-c.frames:
			return c.frame(frame, ok)
		default:
			return "", ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-c.frames:
		return c.frame(frame, ok)
	case <-timer.C:
		return "", ErrTimeout
	}
}

func (c *Conn) frame(frame string, ok bool) (string, error) {
	if ok {
		return frame, nil
	}
	// frames is closed only after readErr is set.
	if c.readErr == nil {
		return "", ErrClosed
	}
	if status := websocket.CloseStatus(c.readErr); status != -1 {
		return "", fmt.Errorf("%w: peer sent %s", ErrClosed, status)
	}
	return "", fmt.Errorf("%w: %v", ErrClosed, c.readErr)
}

// Close performs the closing handshake and waits for the reader to exit.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		if err := c.ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			select {
			case <-c.done:
				// Peer already gone; nothing left to close.
			default:
				c.closeErr = fmt.Errorf("close websocket: %w", err)
			}
		}
		<-c.done
		c.logger.Debug("Websocket closed")
	})
	return c.closeErr
}
