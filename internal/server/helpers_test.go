package server

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"

	"github.com/Tyrowin/presence-chat/internal/client"
	"github.com/Tyrowin/presence-chat/internal/config"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

const waitFor = 3 * time.Second

type fakeTransport struct {
	mu     sync.Mutex
	joined map[netip.Addr]bool
	sent   []protocol.Envelope
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{joined: make(map[netip.Addr]bool)}
}

func (f *fakeTransport) Join(addr netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[addr] = true
	return nil
}

func (f *fakeTransport) Leave(addr netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, addr)
	return nil
}

func (f *fakeTransport) Publish(_ netip.Addr, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeTransport) published() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.sent...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// upperTranslator marks translated text so tests can tell it apart.
type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text string, from, to language.Tag) (string, error) {
	return from.String() + "->" + to.String() + ":" + strings.ToUpper(text), nil
}

type testServer struct {
	*Server
	transport *fakeTransport
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.GroupAddr = "127.0.0.1:0"
	cfg.PasswordCost = bcrypt.MinCost
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.AllowedOrigins = []string{"http://localhost:8080"}
	return cfg
}

// startServer runs a server on loopback ports with a recording group
// transport. mutate may adjust the configuration first.
func startServer(t *testing.T, mutate func(*config.Config), opts ...Option) *testServer {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	transport := newFakeTransport()
	srv, err := New(cfg, append([]Option{WithGroupTransport(transport)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown() })
	return &testServer{Server: srv, transport: transport}
}

func (s *testServer) wsURL() string {
	return "ws://" + s.Addr().String()
}

func (s *testServer) httpURL() string {
	return "http://" + s.Addr().String()
}

func (s *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := client.Dial(ctx, client.Config{
		ServerURL:    s.wsURL(),
		GroupAddr:    s.GroupAddr().String(),
		DownloadDir:  t.TempDir(),
		ReplyTimeout: waitFor,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// online registers user and logs a fresh client in.
func (s *testServer) online(t *testing.T, user, lang string) *client.Client {
	t.Helper()
	c := s.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Register(ctx, user, "secret-"+user, lang))
	_, err := c.Login(ctx, user, "secret-"+user)
	require.NoError(t, err)
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

// nextEvent waits for an event from source carrying an envelope of type
// typ, skipping any other.
func nextEvent(t *testing.T, c *client.Client, source client.Source, typ string) client.Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed")
			if ev.Source == source && ev.Envelope.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s %s event within %s", source, typ, waitFor)
			return client.Event{}
		}
	}
}
