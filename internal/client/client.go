// Package client is a Go client for the presence server. It speaks the three
// websocket streams, sends group datagrams, subscribes to group multicast and
// runs the peer-to-peer side of file transfers.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/multicast"
	"github.com/Tyrowin/presence-chat/internal/pending"
	"github.com/Tyrowin/presence-chat/internal/protocol"
	"github.com/Tyrowin/presence-chat/internal/transfer"
)

const (
	defaultReplyTimeout = 10 * time.Second
	eventBuffer         = 64
)

var (
	// ErrNotLoggedIn is returned by operations that need a completed login.
	ErrNotLoggedIn = errors.New("client: not logged in")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")
	// ErrUnexpectedReply is returned when the server answers with an
	// envelope type the operation does not expect.
	ErrUnexpectedReply = errors.New("client: unexpected reply")
)

// NackError carries the text of a negative reply.
type NackError struct {
	Msg string
}

func (e *NackError) Error() string {
	return "server refused: " + e.Msg
}

// Source tells which stream produced an Event.
type Source string

// Event sources.
const (
	SourceChat     Source = "chat"
	SourceNotify   Source = "notify"
	SourceGroup    Source = "group"
	SourceTransfer Source = "transfer"
)

// Event is a push from the server, a group message, or the outcome of a
// file transfer. Path and Err are only set for SourceTransfer.
type Event struct {
	Source   Source
	Envelope protocol.Envelope
	Path     string
	Err      error
}

// Config configures a Client.
type Config struct {
	// ServerURL is the websocket base, e.g. ws://localhost:8080.
	ServerURL string
	// GroupAddr is the server's UDP address for group messages. Empty
	// disables group messaging.
	GroupAddr string
	// MulticastPort enables group subscriptions when non-zero.
	MulticastPort      int
	MulticastInterface string
	// TransferHost is advertised to file senders; empty uses the bound host.
	TransferHost  string
	DownloadDir   string
	AcceptTimeout time.Duration
	OfferTTL      time.Duration
	MaxTransfers  int
	ReplyTimeout  time.Duration
	Header        http.Header
}

// Client is one user's connection to the server.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	reqMu   sync.Mutex
	request *websocket.Conn

	chatMu      sync.Mutex
	chatWriteMu sync.Mutex
	chatReplies chan protocol.Envelope

	// mu guards the streams opened by Login and the bound identity.
	mu     sync.Mutex
	user   string
	chat   *websocket.Conn
	notify *websocket.Conn
	group  *net.UDPConn
	sub    *multicast.Subscriber

	offers    *pending.Table[int64, string]
	transfers *transfer.Pool
	nextIde   atomic.Int64

	events    chan Event
	done      chan struct{}
	readers   sync.WaitGroup
	closeOnce sync.Once
	log       *logrus.Entry
}

// Dial opens the request stream. Login opens the remaining streams.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 10 * time.Minute
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
	c := &Client{
		cfg:         cfg,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.ReplyTimeout},
		chatReplies: make(chan protocol.Envelope, 8),
		events:      make(chan Event, eventBuffer),
		done:        make(chan struct{}),
		log:         logrus.WithField("component", "client"),
	}

	ws, err := c.dial(ctx, "/ws/request")
	if err != nil {
		return nil, err
	}
	c.request = ws
	c.offers = pending.New[int64, string](cfg.OfferTTL)
	c.transfers = transfer.NewPool(context.Background(), cfg.MaxTransfers)
	c.nextIde.Store(time.Now().UnixNano())
	return c, nil
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	url := strings.TrimRight(c.cfg.ServerURL, "/") + path
	ws, resp, err := c.dialer.DialContext(ctx, url, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return ws, nil
}

// Events returns the channel of pushes. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// User returns the logged-in username, or "" before login.
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeEnvelope writes env as one text frame.
func writeEnvelope(ws *websocket.Conn, env protocol.Envelope, timeout time.Duration) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

// readEnvelopes reads one frame and splits it into envelopes.
func readEnvelopes(ws *websocket.Conn) ([]protocol.Envelope, error) {
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var out []protocol.Envelope
	for _, raw := range protocol.SplitFrame(frame) {
		env, err := protocol.Decode(raw)
		if err != nil {
			logrus.WithField("function", "readEnvelopes").WithError(err).Warn("dropping malformed envelope")
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// handshake sends Init on a freshly dialed stream and waits for its reply.
// Pushes that raced ahead of the reply are returned with the stream.
func (c *Client) handshake(ctx context.Context, path, user string) (*websocket.Conn, []protocol.Envelope, error) {
	ws, err := c.dial(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*websocket.Conn, []protocol.Envelope, error) {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("init %s: %w", path, err)
	}

	if err := writeEnvelope(ws, protocol.Envelope{Type: protocol.TypeInit, Usr: user}, c.cfg.ReplyTimeout); err != nil {
		return fail(err)
	}
	if err := ws.SetReadDeadline(deadline(ctx, c.cfg.ReplyTimeout)); err != nil {
		return fail(err)
	}

	var early []protocol.Envelope
	for {
		envs, err := readEnvelopes(ws)
		if err != nil {
			return fail(err)
		}
		for i, env := range envs {
			if env.Type != protocol.TypeACK && env.Type != protocol.TypeNACK {
				early = append(early, env)
				continue
			}
			if err := expect(env, protocol.TypeACK); err != nil {
				return fail(err)
			}
			early = append(early, envs[i+1:]...)
			_ = ws.SetReadDeadline(time.Time{})
			return ws, early, nil
		}
	}
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}

// expect turns a NACK into a NackError and any other type mismatch into
// ErrUnexpectedReply.
func expect(env protocol.Envelope, want string) error {
	switch env.Type {
	case want:
		return nil
	case protocol.TypeNACK:
		return &NackError{Msg: env.Msg}
	default:
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, env.Type, want)
	}
}

// Close drops every stream, which takes the user offline, and stops
// running transfers.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		for _, ws := range []*websocket.Conn{c.request, c.chat, c.notify} {
			if ws != nil {
				_ = ws.Close()
			}
		}
		if c.group != nil {
			_ = c.group.Close()
		}
		if c.sub != nil {
			_ = c.sub.Close()
		}
		c.mu.Unlock()
		c.offers.Close()
		if err := c.transfers.Shutdown(c.cfg.ReplyTimeout); err != nil {
			errs = append(errs, err)
		}
		c.readers.Wait()
		close(c.events)
	})
	return errors.Join(errs...)
}
