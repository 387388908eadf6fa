package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/protocol"
	"github.com/Tyrowin/presence-chat/internal/transfer"
)

func (c *Client) chatConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}

func (c *Client) writeChat(ws *websocket.Conn, env protocol.Envelope) error {
	c.chatWriteMu.Lock()
	defer c.chatWriteMu.Unlock()
	return writeEnvelope(ws, env, c.cfg.ReplyTimeout)
}

// chatRequest sends env on the chat stream and waits for the ACK or NACK.
func (c *Client) chatRequest(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	ws := c.chatConn()
	if ws == nil {
		return protocol.Envelope{}, ErrNotLoggedIn
	}

	c.chatMu.Lock()
	defer c.chatMu.Unlock()

	// a late reply to an abandoned request must not answer this one
	for drained := false; !drained; {
		select {
		case <-c.chatReplies:
		default:
			drained = true
		}
	}

	if err := c.writeChat(ws, env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("send %s: %w", env.Type, err)
	}

	timer := time.NewTimer(c.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case reply := <-c.chatReplies:
		return reply, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-c.done:
		return protocol.Envelope{}, ErrClosed
	case <-timer.C:
		return protocol.Envelope{}, fmt.Errorf("%s: no reply within %s", env.Type, c.cfg.ReplyTimeout)
	}
}

// SendChat sends text to a friend. The server translates it to the
// recipient's language.
func (c *Client) SendChat(ctx context.Context, to, text string) error {
	reply, err := c.chatRequest(ctx, protocol.Envelope{Type: protocol.TypeChatMessage, To: to, Msg: text})
	if err != nil {
		return err
	}
	return expect(reply, protocol.TypeACK)
}

// OfferFile offers the file at path to a friend. The file is streamed
// directly to the friend once it answers with its endpoint; the outcome
// arrives as a SourceTransfer event carrying a SockInfo envelope. The
// returned id matches that envelope's Ide.
func (c *Client) OfferFile(ctx context.Context, to, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}

	ide := c.nextIde.Add(1)
	if !c.offers.Put(ide, path) {
		return 0, ErrClosed
	}
	reply, err := c.chatRequest(ctx, protocol.Envelope{
		Type:     protocol.TypeFileMessage,
		To:       to,
		FileName: filepath.Base(path),
		Len:      info.Size(),
		Ide:      ide,
	})
	if err == nil {
		err = expect(reply, protocol.TypeACK)
	}
	if err != nil {
		c.offers.Take(ide)
		return 0, err
	}
	return ide, nil
}

func (c *Client) readNotify(ws *websocket.Conn, early []protocol.Envelope) {
	defer c.readers.Done()
	for _, env := range early {
		c.emit(Event{Source: SourceNotify, Envelope: env})
	}
	for {
		envs, err := readEnvelopes(ws)
		if err != nil {
			c.streamClosed("notify", err)
			return
		}
		for _, env := range envs {
			c.emit(Event{Source: SourceNotify, Envelope: env})
		}
	}
}

func (c *Client) readChat(ws *websocket.Conn, early []protocol.Envelope) {
	defer c.readers.Done()
	for _, env := range early {
		c.handleChat(ws, env)
	}
	for {
		envs, err := readEnvelopes(ws)
		if err != nil {
			c.streamClosed("chat", err)
			return
		}
		for _, env := range envs {
			c.handleChat(ws, env)
		}
	}
}

func (c *Client) streamClosed(stream string, err error) {
	if c.closed() {
		return
	}
	log := c.log.WithField("stream", stream)
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
		log.Info("stream closed by server")
		return
	}
	log.WithError(err).Warn("stream read failed")
}

func (c *Client) handleChat(ws *websocket.Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeACK, protocol.TypeNACK:
		select {
		case c.chatReplies <- env:
		default:
			c.log.WithField("msg", env.Msg).Warn("dropping unsolicited chat reply")
		}
	case protocol.TypeFileMessage:
		c.emit(Event{Source: SourceChat, Envelope: env})
		c.acceptFile(ws, env)
	case protocol.TypeSockInfo:
		c.startSend(env)
	default:
		c.emit(Event{Source: SourceChat, Envelope: env})
	}
}

// advertiseHost is the address this host reaches the server from, which is
// also where a peer on the same network can reach us.
func advertiseHost(ws *websocket.Conn) string {
	if addr, ok := ws.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

// acceptFile answers an offer: it listens for the sender, tells it the
// endpoint through the server and receives in the transfer pool. Offers
// arriving while every transfer slot is taken are refused with a
// SourceTransfer event; the read loop never waits for a slot.
func (c *Client) acceptFile(ws *websocket.Conn, offer protocol.Envelope) {
	host := c.cfg.TransferHost
	if host == "" {
		host = advertiseHost(ws)
	}
	log := c.log.WithFields(logrus.Fields{"from": offer.From, "file": offer.FileName, "ide": offer.Ide})

	rcv, err := transfer.Listen("", host, c.cfg.AcceptTimeout)
	if err != nil {
		c.emit(Event{Source: SourceTransfer, Envelope: offer, Err: err})
		return
	}
	path := filepath.Join(c.cfg.DownloadDir, filepath.Base(offer.FileName))

	err = c.transfers.TryGo("receive "+offer.FileName, func(ctx context.Context) error {
		_, err := rcv.ReceiveFile(ctx, path, offer.Len)
		c.emit(Event{Source: SourceTransfer, Envelope: offer, Path: path, Err: err})
		if err == nil {
			log.WithField("path", path).Info("file received")
		}
		return err
	})
	if err != nil {
		_ = rcv.Close()
		log.WithError(err).Warn("cannot schedule receive")
		c.emit(Event{Source: SourceTransfer, Envelope: offer, Err: err})
		return
	}

	ep := rcv.Endpoint()
	answer := protocol.Envelope{Type: protocol.TypeSockInfo, Usr: offer.From, Ip: ep.Host, Port: ep.Port, Ide: offer.Ide}
	if err := c.writeChat(ws, answer); err != nil {
		_ = rcv.Close()
		log.WithError(err).Warn("failed to send endpoint")
	}
}

// startSend streams a previously offered file to the endpoint the receiver
// announced.
func (c *Client) startSend(info protocol.Envelope) {
	log := c.log.WithFields(logrus.Fields{"to": info.Usr, "file": info.FileName, "ide": info.Ide})
	path, ok := c.offers.Take(info.Ide)
	if !ok {
		log.Warn("endpoint for an unknown or expired offer")
		return
	}

	ep := transfer.Endpoint{Host: info.Ip, Port: info.Port}
	err := c.transfers.TryGo("send "+info.FileName, func(ctx context.Context) error {
		_, err := transfer.SendFile(ctx, ep, path)
		c.emit(Event{Source: SourceTransfer, Envelope: info, Path: path, Err: err})
		if err == nil {
			log.WithField("endpoint", ep.String()).Info("file sent")
		}
		return err
	})
	if err != nil {
		log.WithError(err).Warn("cannot schedule send")
		c.emit(Event{Source: SourceTransfer, Envelope: info, Path: path, Err: err})
	}
}
