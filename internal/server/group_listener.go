package server

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/protocol"
)

// groupListener receives GroupMsg datagrams and dispatches each one on its
// own goroutine. Failures are answered with a NACK datagram; success is
// silent because the message itself goes out over multicast.
type groupListener struct {
	srv     *Server
	conn    *net.UDPConn
	maxSize int
	wg      sync.WaitGroup
	log     *logrus.Entry
}

func listenGroups(srv *Server, addr string, maxSize int) (*groupListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &groupListener{
		srv:     srv,
		conn:    conn,
		maxSize: maxSize,
		log:     logrus.WithField("component", "groupListener"),
	}, nil
}

func (l *groupListener) addr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *groupListener) serve() {
	buf := make([]byte, l.maxSize)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.WithError(err).Warn("group datagram receive failed")
			l.srv.budget.record(err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.dispatch(data, from)
		}()
	}
}

func (l *groupListener) dispatch(data []byte, from *net.UDPAddr) {
	env, err := protocol.Decode(data)
	if err != nil {
		l.log.WithError(err).WithField("remote", from.String()).Warn("invalid group datagram")
		l.nack(from, msgMalformed)
		return
	}
	if env.Type != protocol.TypeGroupMsg {
		l.nack(from, msgUnsupported)
		return
	}

	code := l.srv.coord.SendGroupMessage(env.From, env.GroupName, env.Msg)
	if !code.OK() {
		l.nack(from, groupFailure(code, env.GroupName))
	}
}

func (l *groupListener) nack(to *net.UDPAddr, msg string) {
	data, err := protocol.Encode(protocol.Nack(msg))
	if err != nil {
		return
	}
	if _, err := l.conn.WriteToUDP(data, to); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log.WithError(err).WithField("remote", to.String()).Warn("failed to send group NACK")
	}
}

// close stops receiving and waits for in-flight dispatches.
func (l *groupListener) close() error {
	err := l.conn.Close()
	l.wg.Wait()
	return err
}
