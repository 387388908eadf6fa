package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// errExceededErrorBudget is reported once accept failures pass the limit.
var errExceededErrorBudget = errors.New("too many accept errors")

// errorBudget counts accept and receive failures and trips once the count
// exceeds max.
type errorBudget struct {
	max   int32
	count atomic.Int32
	once  sync.Once
	trip  func(error)
}

func newErrorBudget(max int, trip func(error)) *errorBudget {
	return &errorBudget{max: int32(max), trip: trip}
}

func (b *errorBudget) record(err error) {
	n := b.count.Add(1)
	if n <= b.max {
		return
	}
	b.once.Do(func() {
		logrus.WithFields(logrus.Fields{"function": "errorBudget.record", "errors": n}).
			WithError(err).Error("error threshold exceeded, shutting down")
		b.trip(errExceededErrorBudget)
	})
}

// countingListener charges accept failures to an errorBudget.
type countingListener struct {
	net.Listener
	budget *errorBudget
}

func (l *countingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		l.budget.record(err)
	}
	return conn, err
}
