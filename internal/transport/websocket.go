package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/mcoutinho/pigeon/internal/envelope"
	"go.uber.org/zap"
)

// Close code the engine uses when the room was deleted mid-session.
const closeCodeRoomGone = 4404

// Socket is a websocket Transport backed by gobwas/ws.
type Socket struct {
	url      string
	handlers Handlers
	logger   *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc
}

// NewSocket creates a websocket transport for the given room URL.
func NewSocket(url string, h Handlers, logger *zap.Logger) *Socket {
	return &Socket{url: url, handlers: h, logger: logger}
}

// Connect dials the chat engine and starts the read loop.
func (s *Socket) Connect(ctx context.Context) error {
	dialer := ws.Dialer{Timeout: 15 * time.Second}
	conn, _, _, err := dialer.Dial(ctx, s.url)
	if err != nil {
		cause := mapDialError(err)
		s.logger.Warn("dial failed", zap.String("url", s.url), zap.Error(cause))
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(cause)
		}
		return cause
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn)

	if s.handlers.OnConnect != nil {
		s.handlers.OnConnect()
	}
	return nil
}

// Disconnect closes the socket without invoking callbacks.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = wsutil.WriteClientMessage(conn, ws.OpClose, nil)
		_ = conn.Close()
	}
}

// SendMessage writes the envelope and echoes it through OnSent.
func (s *Socket) SendMessage(env *envelope.Envelope) error {
	if err := s.write(env); err != nil {
		return err
	}
	if s.handlers.OnSent != nil {
		s.handlers.OnSent(env)
	}
	return nil
}

// ReturnMessage loops the envelope back to its sender.
func (s *Socket) ReturnMessage(env *envelope.Envelope) error {
	return s.write(env)
}

func (s *Socket) write(env *envelope.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := wsutil.WriteClientText(conn, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (s *Socket) readLoop(ctx context.Context, conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil {
				// Local teardown, not a transport failure.
				return
			}
			s.dispatchFailure(err)
			return
		}

		var env envelope.Envelope
		if err := env.Decode(data); err != nil {
			s.logger.Warn("undecodable frame", zap.Error(err))
			if s.handlers.OnError != nil {
				s.handlers.OnError(err)
			}
			continue
		}
		if s.handlers.OnReceive != nil {
			s.handlers.OnReceive(&env)
		}
	}
}

func (s *Socket) dispatchFailure(err error) {
	s.mu.Lock()
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		if s.handlers.OnClose != nil {
			s.handlers.OnClose(int(closed.Code), closed.Reason)
		}
		cause := error(err)
		if int(closed.Code) == closeCodeRoomGone {
			cause = fmt.Errorf("%w: close code %d", ErrRoomNotFound, closed.Code)
		}
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(cause)
		}
		return
	}

	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
	if s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(err)
	}
}

// mapDialError translates the engine's 404 rejection into the sentinel
// the reconnect manager remediates.
func mapDialError(err error) error {
	var status ws.StatusError
	if errors.As(err, &status) && int(status) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrRoomNotFound, err)
	}
	return err
}
