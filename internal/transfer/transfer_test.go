package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveExactLength(t *testing.T) {
	rcv, err := Listen("127.0.0.1", "", time.Second)
	require.NoError(t, err)
	ep := rcv.Endpoint()
	assert.Equal(t, "127.0.0.1", ep.Host)
	assert.NotZero(t, ep.Port)

	payload := strings.Repeat("presence", 1000)
	var got bytes.Buffer
	errc := make(chan error, 1)
	go func() {
		_, err := rcv.Receive(context.Background(), &got, int64(len(payload)))
		errc <- err
	}()

	n, err := Send(context.Background(), ep, strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	require.NoError(t, <-errc)
	assert.Equal(t, payload, got.String())
}

func TestReceiveShortTransfer(t *testing.T) {
	rcv, err := Listen("127.0.0.1", "", time.Second)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := rcv.Receive(context.Background(), &bytes.Buffer{}, 100)
		errc <- err
	}()

	_, err = Send(context.Background(), rcv.Endpoint(), strings.NewReader("only ten b"), 10)
	require.NoError(t, err)
	assert.ErrorIs(t, <-errc, ErrShortTransfer)
}

func TestReceiveAcceptTimeout(t *testing.T) {
	rcv, err := Listen("127.0.0.1", "", 30*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = rcv.Receive(context.Background(), &bytes.Buffer{}, 1)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReceiveCancelled(t *testing.T) {
	rcv, err := Listen("127.0.0.1", "", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = rcv.Receive(ctx, &bytes.Buffer{}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	dst := filepath.Join(dir, "out.bin")
	data := bytes.Repeat([]byte{1, 2, 3}, 4096)
	require.NoError(t, os.WriteFile(src, data, 0o600))

	rcv, err := Listen("127.0.0.1", "localhost", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "localhost", rcv.Endpoint().Host)

	errc := make(chan error, 1)
	go func() {
		_, err := rcv.ReceiveFile(context.Background(), dst, int64(len(data)))
		errc <- err
	}()

	ep := rcv.Endpoint()
	ep.Host = "127.0.0.1"
	_, err = SendFile(context.Background(), ep, src)
	require.NoError(t, err)
	require.NoError(t, <-errc)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReceiveFileRemovesPartial(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.bin")
	rcv, err := Listen("127.0.0.1", "", 20*time.Millisecond)
	require.NoError(t, err)

	_, err = rcv.ReceiveFile(context.Background(), dst, 10)
	require.Error(t, err)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}
