package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-chat/internal/config"
	"github.com/Tyrowin/presence-chat/internal/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Handler processes the envelopes read from one connection. Handle calls
// are sequential; Closed runs once after the read loop has stopped.
type Handler interface {
	Handle(c *Conn, env protocol.Envelope)
	Closed(c *Conn)
}

// Conn is one websocket stream of a client. It owns a read pump that feeds
// the Handler and a write pump that drains the send queue.
type Conn struct {
	id             uuid.UUID
	kind           string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
	handler        Handler
	log            *logrus.Entry
}

func newConn(ws *websocket.Conn, hub *Hub, addr, kind string, cfg *config.Config) *Conn {
	if ws != nil {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.New()
	return &Conn{
		id:             id,
		kind:           kind,
		conn:           ws,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log: logrus.WithFields(logrus.Fields{
			"conn":   id.String(),
			"kind":   kind,
			"remote": addr,
		}),
	}
}

// ID returns the connection identifier used in logs.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Send queues env for the write pump. It never blocks; a full queue drops
// the connection.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if !c.hub.safeSend(c, data) {
		c.hub.removeFailedClients([]*Conn{c})
		return errSendFailed
	}
	return nil
}

func (c *Conn) reply(env protocol.Envelope) {
	if err := c.Send(env); err != nil {
		c.log.WithError(err).WithField("type", env.Type).Debug("reply dropped")
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Conn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.WithError(err).Warn("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Conn) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warnf("message exceeded maximum size of %d bytes", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.WithError(err).Info("client disconnected")
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.WithError(err).Info("connection closed")
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.WithError(err).Warn("unexpected websocket close")
		return true
	}

	c.log.WithError(err).Warn("websocket read error")
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Conn) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warnf("rate limit exceeded (%d messages per %s), rejecting request", c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processFrame decodes every envelope of a frame and hands it to the handler.
func (c *Conn) processFrame(frame []byte) {
	for _, raw := range protocol.SplitFrame(frame) {
		if !c.checkRateLimit() {
			c.reply(protocol.Nack(msgRateLimited))
			continue
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.WithError(err).Warn("invalid envelope")
			c.reply(protocol.Nack(msgMalformed))
			continue
		}
		c.handler.Handle(c, env)
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregisterConn(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("error closing connection in readPump")
		}
		c.handler.Closed(c)
	}()

	c.setupReadConnection()

	for {
		_, frame, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}
		c.processFrame(frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Conn) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Conn) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Warn("error closing connection in writePump")
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Conn) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Conn) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("error writing close message")
	}
	return false
}

// writeTextMessage writes a text message and any queued messages, one
// envelope per line
func (c *Conn) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.WithError(err).Warn("error creating writer")
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.WithError(err).Warn("error writing message")
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.log.WithError(err).Warn("error closing writer")
		return false
	}
	return true
}

// writeQueuedMessages writes any additional queued messages
func (c *Conn) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		msg, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.WithError(err).Warn("error writing newline")
			return false
		}
		if _, err := w.Write(msg); err != nil {
			c.log.WithError(err).Warn("error writing queued message")
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Conn) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Debug("error writing ping")
		return false
	}
	return true
}
