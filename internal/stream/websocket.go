package stream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/posturectl/internal/errors"
	"codeberg.org/mutker/posturectl/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 8 << 20
	eventBuffer      = 16
)

// WebSocketDialer opens Channels over gorilla/websocket.
type WebSocketDialer struct {
	URL    string
	Codec  Codec
	Header http.Header
	Log    logger.Logger
}

// NewWebSocketDialer returns a dialer for url speaking protocol.
func NewWebSocketDialer(url, protocol string, log logger.Logger) (*WebSocketDialer, error) {
	codec, err := NewCodec(protocol)
	if err != nil {
		return nil, err
	}
	return &WebSocketDialer{URL: url, Codec: codec, Log: log.With("stream")}, nil
}

// Dial connects and starts the read pump. The context bounds the
// handshake only; the channel lives until Close or a transport failure.
func (d *WebSocketDialer) Dial(ctx context.Context) (Channel, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, errors.New().Wrap(errors.ErrStreamDial, err).WithData(struct {
			URL    string
			Status int
			Error  string
		}{
			URL:    d.URL,
			Status: status,
			Error:  err.Error(),
		})
	}

	if hs, ok := d.Codec.(handshaker); ok {
		if err := hs.handshake(conn); err != nil {
			conn.Close()
			return nil, errors.New().Wrap(errors.ErrStreamDial, err)
		}
	}

	log := d.Log
	if log == nil {
		log = logger.Nop()
	}

	c := &wsChannel{
		conn:   conn,
		codec:  d.Codec,
		log:    log,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)

	log.Info().Str("url", d.URL).Msg("Streaming channel connected")

	go c.readPump()
	return c, nil
}

type wsChannel struct {
	conn   *websocket.Conn
	codec  Codec
	log    logger.Logger
	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

func (c *wsChannel) Events() <-chan Event {
	return c.events
}

func (c *wsChannel) Send(intent Intent) error {
	errFactory := errors.New()

	if c.closed.Load() {
		return errFactory.New(errors.ErrInvalidOperation).WithMessage("streaming channel is closed")
	}

	msg, err := c.codec.Encode(intent)
	if err != nil {
		return errFactory.Wrap(errors.ErrStreamFailed, err)
	}
	if err := c.write(websocket.TextMessage, msg); err != nil {
		return errFactory.Wrap(errors.ErrStreamFailed, err)
	}

	c.log.Debug().Str("intent", intent.Type).Msg("Intent sent")
	return nil
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		// Best effort close handshake; the peer may already be gone.
		_ = c.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

func (c *wsChannel) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsChannel) readPump() {
	defer close(c.events)

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Event{Kind: KindClosed})
				return
			}
			c.log.Warn().Err(err).Msg("Streaming channel read failed")
			c.emit(Event{Kind: KindError, Err: errors.New().Wrap(errors.ErrStreamFailed, err)})
			return
		}

		decoded, err := c.codec.Decode(messageType, payload)
		if err != nil {
			c.log.Debug().Err(err).Int("bytes", len(payload)).Msg("Dropping undecodable message")
			continue
		}

		if decoded.Reply != nil {
			if err := c.write(websocket.TextMessage, decoded.Reply); err != nil && !c.closed.Load() {
				c.log.Warn().Err(err).Msg("Failed to answer protocol message")
			}
		}

		if decoded.Event == nil {
			continue
		}
		if !c.emit(*decoded.Event) {
			return
		}
		if k := decoded.Event.Kind; k == KindClosed || k == KindError {
			return
		}
	}
}

// emit delivers ev unless the channel is being closed.
func (c *wsChannel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}
