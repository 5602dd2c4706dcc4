package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"chat-otp-gateway/internal/session"
)

// ErrNotConnected is returned for commands issued while the control socket is down.
var ErrNotConnected = errors.New("bridge: not connected")

// Client talks to the messaging engine's control socket. It implements
// session.Client: commands are request/reply frames correlated by id, and
// engine notifications are forwarded on the events channel.
//
// The events channel lives for the process lifetime; Destroy drops the socket
// but keeps the channel so the session machine survives reconnects.
type Client struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	stop    context.CancelFunc
	pending map[int64]chan frame
	nextID  int64

	events chan session.Event
}

// NewClient returns a Client for the given ws:// control endpoint. No I/O happens
// until Connect.
func NewClient(url string) *Client {
	return &Client{
		url:     url,
		pending: make(map[int64]chan frame),
		events:  make(chan session.Event, 32),
	}
}

// Connect dials the control socket if needed and asks the engine to start or
// resume its session. Idempotent if already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("bridge: dial %s: %w", c.url, err)
		}
		readCtx, cancel := context.WithCancel(context.Background())
		c.conn = conn
		c.stop = cancel
		go c.readLoop(readCtx, conn)
	}
	c.mu.Unlock()

	_, err := c.roundtrip(ctx, frame{Op: opConnect})
	return err
}

// Destroy asks the engine to tear the session down and drops the control socket.
// Safe to call when never connected.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	// Best-effort: the engine may already be gone.
	if _, err := c.roundtrip(ctx, frame{Op: opDestroy}); err != nil {
		log.Printf("bridge: destroy command: %v", err)
	}
	c.dropConn("destroyed")
	return nil
}

// State queries the engine's raw connection state. Reports RawDisconnected
// without I/O when the control socket is down.
func (c *Client) State(ctx context.Context) (session.RawState, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return session.RawDisconnected, nil
	}

	reply, err := c.roundtrip(ctx, frame{Op: opState})
	if err != nil {
		return session.RawUnknown, err
	}
	switch reply.State {
	case "CONNECTED":
		return session.RawConnected, nil
	case "DISCONNECTED", "CONFLICT", "UNPAIRED":
		return session.RawDisconnected, nil
	default:
		return session.RawUnknown, nil
	}
}

// Send delivers text to the fully-qualified channel id and returns the engine's
// message id. Engine-side failures come back as opaque error strings; the send
// pipeline classifies them.
func (c *Client) Send(ctx context.Context, channelID, text string) (string, error) {
	reply, err := c.roundtrip(ctx, frame{Op: opSend, To: channelID, Body: text})
	if err != nil {
		return "", err
	}
	if !reply.OK {
		return "", errors.New(reply.Error)
	}
	return reply.MessageID, nil
}

// Refresh asks the engine for a page-level reload without dropping the session.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.roundtrip(ctx, frame{Op: opRefresh})
	return err
}

// Events returns the notification stream.
func (c *Client) Events() <-chan session.Event { return c.events }

// roundtrip writes one command frame and waits for the matching reply or ctx expiry.
func (c *Client) roundtrip(ctx context.Context, f frame) (frame, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return frame{}, ErrNotConnected
	}
	c.nextID++
	f.ID = c.nextID
	ch := make(chan frame, 1)
	c.pending[f.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, conn, f); err != nil {
		return frame{}, fmt.Errorf("bridge: write: %w", err)
	}

	select {
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return frame{}, ErrNotConnected
		}
		return reply, nil
	}
}

// readLoop dispatches inbound frames: replies to their waiters, notifications to
// the events channel. A read error means the control socket dropped; pending
// commands fail and a disconnected event is surfaced.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() == nil {
				c.dropConn(fmt.Sprintf("control socket: %v", err))
				c.events <- session.Event{Kind: session.EventDisconnected, Reason: "control socket lost"}
			}
			return
		}

		if f.Event != "" {
			if ev, ok := toSessionEvent(f); ok {
				c.events <- ev
			}
			continue
		}
		if f.ID != 0 {
			// Deliver under the lock: dropConn swaps the pending map before
			// closing the old channels, so a waiter found here cannot be
			// closed concurrently, and the size-1 buffer keeps the send from
			// blocking while the lock is held.
			c.mu.Lock()
			if ch := c.pending[f.ID]; ch != nil {
				select {
				case ch <- f:
				default: // duplicate reply id; drop rather than block under the lock
				}
			}
			c.mu.Unlock()
		}
	}
}

// dropConn closes the socket, stops the read loop, and fails all pending commands.
func (c *Client) dropConn(reason string) {
	c.mu.Lock()
	conn := c.conn
	stop := c.stop
	c.conn = nil
	c.stop = nil
	pending := c.pending
	c.pending = make(map[int64]chan frame)
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
	for _, ch := range pending {
		close(ch)
	}
}

func toSessionEvent(f frame) (session.Event, bool) {
	switch f.Event {
	case evQR:
		return session.Event{Kind: session.EventChallenge, Challenge: f.Payload}, true
	case evAuthenticated:
		return session.Event{Kind: session.EventAuthenticated}, true
	case evReady:
		return session.Event{Kind: session.EventReady, Identity: f.Identity}, true
	case evDisconnected:
		return session.Event{Kind: session.EventDisconnected, Reason: f.Reason}, true
	default:
		return session.Event{}, false
	}
}
