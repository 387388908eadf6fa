package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"
)

// DefaultAcceptTimeout bounds how long a Receiver waits for the sender.
const DefaultAcceptTimeout = 600 * time.Second

// ErrShortTransfer is returned when the peer closed before length bytes moved.
var ErrShortTransfer = errors.New("transfer ended early")

// Endpoint is the address a Receiver listens on.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Receiver accepts a single incoming transfer.
type Receiver struct {
	ln            *net.TCPListener
	endpoint      Endpoint
	acceptTimeout time.Duration
}

// Listen opens a Receiver on an ephemeral port of bindHost. advertiseHost is
// the host peers are told to dial; empty means the bound host.
func Listen(bindHost, advertiseHost string, acceptTimeout time.Duration) (*Receiver, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("open transfer listener: %w", err)
	}
	tcp := ln.(*net.TCPListener)
	addr := tcp.Addr().(*net.TCPAddr)

	host := advertiseHost
	if host == "" {
		host = addr.IP.String()
	}
	if acceptTimeout <= 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	return &Receiver{
		ln:            tcp,
		endpoint:      Endpoint{Host: host, Port: addr.Port},
		acceptTimeout: acceptTimeout,
	}, nil
}

// Endpoint returns the address to advertise to the sender.
func (r *Receiver) Endpoint() Endpoint {
	return r.endpoint
}

// Receive waits for the sender within the accept timeout and copies exactly
// length bytes into w. The listener is closed when Receive returns.
func (r *Receiver) Receive(ctx context.Context, w io.Writer, length int64) (int64, error) {
	defer r.ln.Close()

	if err := r.ln.SetDeadline(time.Now().Add(r.acceptTimeout)); err != nil {
		return 0, fmt.Errorf("set accept deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = r.ln.Close() })
	conn, err := r.ln.Accept()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("accept sender: %w", err)
	}
	defer conn.Close()

	stopConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopConn()

	n, err := io.CopyN(w, conn, length)
	return n, copyErr(ctx, n, length, err)
}

// Close releases the listener without receiving.
func (r *Receiver) Close() error {
	return r.ln.Close()
}

// ReceiveFile is Receive into a new file at path. A partial file is removed.
func (r *Receiver) ReceiveFile(ctx context.Context, path string, length int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		_ = r.Close()
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := r.Receive(ctx, f, length)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return n, err
	}
	return n, nil
}

// Send dials ep and streams exactly length bytes from src.
func Send(ctx context.Context, ep Endpoint, src io.Reader, length int64) (int64, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", ep, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	n, err := io.CopyN(conn, src, length)
	return n, copyErr(ctx, n, length, err)
}

// SendFile streams the file at path to ep and returns the bytes sent.
func SendFile(ctx context.Context, ep Endpoint, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return Send(ctx, ep, f, info.Size())
}

func copyErr(ctx context.Context, n, length int64, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || (err == nil && n < length) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortTransfer, n, length)
	}
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
