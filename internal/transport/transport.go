// Package transport defines the contract between the reconciliation
// layer and the chat engine socket, plus the production websocket
// implementation.
package transport

import (
	"context"
	"errors"

	"github.com/mcoutinho/pigeon/internal/envelope"
)

// ErrRoomNotFound marks a disconnect caused by the remote room not
// existing (the HTTP 404 surfaced by the engine). The reconnect manager
// remediates this one cause by provisioning the room.
var ErrRoomNotFound = errors.New("chat room not found")

// ErrNotConnected is returned for sends attempted without a live socket.
var ErrNotConnected = errors.New("transport not connected")

// Handlers carries the callbacks a transport invokes. Nil funcs are
// skipped. All callbacks may fire from the transport's read goroutine;
// consumers are expected to enqueue, not block.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func(cause error)
	OnClose      func(code int, reason string)
	OnError      func(reason error)
	OnReceive    func(env *envelope.Envelope)
	OnSent       func(env *envelope.Envelope)
}

// Transport is the bidirectional realtime channel for one chat room.
type Transport interface {
	// Connect establishes the socket. A synchronous error is also
	// reported through OnDisconnect so callers may rely on either.
	Connect(ctx context.Context) error
	// Disconnect tears the socket down without callbacks.
	Disconnect()
	// SendMessage writes an envelope and echoes it via OnSent.
	SendMessage(env *envelope.Envelope) error
	// ReturnMessage loops an envelope back to its sender, used for
	// read receipts. No OnSent echo.
	ReturnMessage(env *envelope.Envelope) error
}
