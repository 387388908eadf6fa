package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/config"
	"github.com/Tyrowin/presence-chat/internal/core"
	"github.com/Tyrowin/presence-chat/internal/multicast"
	"github.com/Tyrowin/presence-chat/internal/translate"
)

// GroupTransport is the multicast fan-out the server owns and releases on
// shutdown.
type GroupTransport interface {
	core.GroupTransport
	Close() error
}

// Option customises a Server.
type Option func(*Server)

// WithGroupTransport replaces the multicast transport opened from the
// configuration.
func WithGroupTransport(t GroupTransport) Option {
	return func(s *Server) {
		s.transport = t
	}
}

// WithTranslator replaces the configured translation service.
func WithTranslator(t core.Translator) Option {
	return func(s *Server) {
		s.translator = t
	}
}

// Server wires the coordination core to its transports: three websocket
// streams per client, the UDP group listener and the multicast fan-out.
type Server struct {
	cfg *config.Config

	presence  *core.Presence
	groups    *core.GroupDirectory
	messenger *core.Messenger
	coord     *core.GroupCoordinator

	transport  GroupTransport
	translator core.Translator

	hub        *Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	udp        *groupListener
	budget     *errorBudget

	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
	log          *logrus.Entry
}

// New builds a Server from cfg. Failing to open the multicast transport is
// fatal.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	c := *cfg
	c.Sanitize()

	s := &Server{
		cfg:   &c,
		hub:   NewHub(),
		fatal: make(chan error, 1),
		log:   logrus.WithField("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.budget = newErrorBudget(c.MaxErrorCount, s.fail)

	start, err := netip.ParseAddr(c.Multicast.RangeStart)
	if err != nil {
		return nil, fmt.Errorf("multicast range start: %w", err)
	}
	end, err := netip.ParseAddr(c.Multicast.RangeEnd)
	if err != nil {
		return nil, fmt.Errorf("multicast range end: %w", err)
	}
	pool, err := core.NewAddressPool(start, end)
	if err != nil {
		return nil, err
	}

	if s.transport == nil {
		t, err := multicast.Open(multicast.Options{
			Port:      c.Multicast.Port,
			TTL:       c.Multicast.TTL,
			Interface: c.Multicast.Interface,
			Loopback:  c.Multicast.Loopback,
		})
		if err != nil {
			return nil, err
		}
		s.transport = t
	}
	if s.translator == nil && c.Translation.Enabled {
		s.translator = translate.NewMyMemory(c.Translation.Endpoint, c.Translation.Timeout)
	}

	s.groups = core.NewGroupDirectory(pool, s.transport, c.Multicast.Port)
	s.presence = core.NewPresence(s.groups,
		core.WithPasswordCost(c.PasswordCost),
		core.WithLoginTimeout(c.LoginTimeout),
		core.WithOfferTTL(c.OfferTTL),
	)
	s.messenger = core.NewMessenger(s.presence, s.translator)
	s.coord = core.NewGroupCoordinator(s.presence, s.groups)

	origins := newOriginPolicy(c.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	s.httpServer = newHTTPServer(s.Routes())
	return s, nil
}

// Presence exposes the user directory.
func (s *Server) Presence() *core.Presence {
	return s.presence
}

// Groups exposes the group directory.
func (s *Server) Groups() *core.GroupDirectory {
	return s.groups
}

// Start binds the websocket and group listeners and begins serving.
func (s *Server) Start() error {
	err := errors.New("server already started")
	s.startOnce.Do(func() {
		err = s.start()
	})
	return err
}

func (s *Server) start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	udp, err := listenGroups(s, s.cfg.GroupAddr, s.cfg.MaxDatagramSize)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("listen group datagrams %s: %w", s.cfg.GroupAddr, err)
	}
	s.listener = &countingListener{Listener: ln, budget: s.budget}
	s.udp = udp

	go s.hub.Run()
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(fmt.Errorf("serve: %w", err))
		}
	}()
	go s.udp.serve()

	s.log.WithFields(logrus.Fields{
		"addr":           ln.Addr().String(),
		"group_addr":     udp.addr().String(),
		"multicast_port": s.cfg.Multicast.Port,
	}).Info("server listening")
	return nil
}

// Addr returns the bound websocket address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GroupAddr returns the bound UDP address once started.
func (s *Server) GroupAddr() net.Addr {
	if s.udp == nil {
		return nil
	}
	return s.udp.addr()
}

func (s *Server) fail(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// Run starts the server and blocks until ctx is done or a fatal error
// occurs, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown requested")
	case runErr = <-s.fatal:
		s.log.WithError(runErr).Error("fatal server error")
	}

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the listeners, closes every connection, which takes
// logged-in users offline, and releases the multicast transport.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		timeout := s.cfg.ShutdownTimeout
		var errs []error

		if s.listener != nil {
			if err := shutdownHTTP(s.httpServer, timeout); err != nil {
				errs = append(errs, err)
			}
			if err := s.udp.close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
			if err := s.hub.Shutdown(timeout); err != nil {
				errs = append(errs, err)
			}
		}
		s.cancel()
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close multicast transport: %w", err))
		}
		s.shutdownErr = errors.Join(errs...)
		s.log.Info("server stopped")
	})
	return s.shutdownErr
}
