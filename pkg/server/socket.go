package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSocketClosed = errors.New("socket closed")

const writeWait = 10 * time.Second

// Frame is one inbound message. Pushes carry Event; acknowledgements carry
// AckID and optionally Err.
type Frame struct {
	Event   string
	AckID   int64
	IsAck   bool
	Payload json.RawMessage
	Err     json.RawMessage
}

// ParseFrame decodes `[event, payload]` pushes and `[id, payload]` or
// `[id, null, error]` acknowledgements.
func ParseFrame(data []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	if len(parts) == 0 {
		return Frame{}, errors.New("empty frame")
	}

	var f Frame
	if err := json.Unmarshal(parts[0], &f.Event); err != nil {
		if err := json.Unmarshal(parts[0], &f.AckID); err != nil {
			return Frame{}, fmt.Errorf("frame head is neither event nor ack id: %s", parts[0])
		}
		f.IsAck = true
	}
	if len(parts) > 1 {
		f.Payload = parts[1]
	}
	if f.IsAck && len(parts) > 2 && string(parts[2]) != "null" {
		f.Err = parts[2]
	}
	return f, nil
}

// Transport is the event channel to the game server.
type Transport interface {
	// Send queues one outbound frame.
	Send(frame []any) error
	// Frames delivers inbound frames and is closed when the channel drops.
	Frames() <-chan Frame
	Close() error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context, url string) (Transport, error)

// Socket is a Transport over a websocket.
type Socket struct {
	ws      *websocket.Conn
	send    chan []byte // Buffered channel of outbound messages.
	frames  chan Frame
	done    chan struct{}
	writeMu sync.Mutex // Mutex to protect concurrent writes to ws.
	once    sync.Once

	logger *zap.Logger
}

// WebsocketDialer returns a Dialer backed by gorilla/websocket.
func WebsocketDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, url string) (Transport, error) {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dialing %s: %s: %w", url, resp.Status, err)
			}
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		return NewSocket(ws, logger), nil
	}
}

// NewSocket starts the read and write pumps of ws.
func NewSocket(ws *websocket.Conn, logger *zap.Logger) *Socket {
	s := &Socket{
		ws:     ws,
		send:   make(chan []byte, 256),
		frames: make(chan Frame, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readPump()
	go s.writePump()
	return s
}

func (s *Socket) Send(frame []any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}

	select {
	case <-s.done:
		return ErrSocketClosed
	case s.send <- data:
		return nil
	}
}

func (s *Socket) Frames() <-chan Frame {
	return s.frames
}

// Close stops the socket. Frames already queued by Send are still written.
func (s *Socket) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

// readPump handles inbound messages from the server
func (s *Socket) readPump() {
	defer func() {
		close(s.frames)
		s.Close()
	}()

	for {
		msgType, msg, err := s.ws.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("read error", zap.Error(err))
			}
			return
		}

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		f, err := ParseFrame(msg)
		if err != nil {
			s.logger.Error("Failed to parse inbound frame", zap.Error(err))
			continue
		}

		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
}

// writePump handles outbound messages to the server
func (s *Socket) writePump() {
	defer s.ws.Close()

	for {
		select {
		case <-s.done:
			s.drain()
			return
		case message := <-s.send:
			if err := s.write(websocket.TextMessage, message); err != nil {
				s.logger.Error("write error", zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

func (s *Socket) drain() {
	for {
		select {
		case message := <-s.send:
			if err := s.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Socket) write(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(msgType, data)
}
