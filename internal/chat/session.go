// Package chat implements the session reconciliation layer between the
// chat engine transport and the local store: demultiplexing the single
// envelope channel, correlating delivery receipts, debouncing presence
// broadcasts and resuming the outbox across reconnects.
package chat

import (
	"context"
	"sync"

	"github.com/mcoutinho/pigeon/internal/bus"
	"github.com/mcoutinho/pigeon/internal/envelope"
	"github.com/mcoutinho/pigeon/internal/provision"
	"github.com/mcoutinho/pigeon/internal/status"
	"github.com/mcoutinho/pigeon/internal/store"
	"github.com/mcoutinho/pigeon/internal/transport"
	"go.uber.org/zap"
)

// Config identifies one chat session.
type Config struct {
	ChatRef      string
	LocalUser    string
	PeerUser     string
	ReadReceipts bool
}

// Provisioner creates the remote room when the transport reports it
// missing.
type Provisioner interface {
	CreateRoom(ctx context.Context, req provision.Request) error
}

// MessageEvent is the bus payload for "chat.message" events, consumed
// by the conversation projector.
type MessageEvent struct {
	Message *store.Message
	Inbound bool
}

// DisconnectEvent is the bus payload for "session.disconnected".
type DisconnectEvent struct {
	ChatRef string
	Cause   error
}

// TypingEvent is the bus payload for "chat.typing".
type TypingEvent struct {
	ChatRef string
	User    string
	Typing  bool
}

// PresenceEvent is the bus payload for "chat.presence".
type PresenceEvent struct {
	ChatRef string
	User    string
	Status  envelope.PresenceStatus
}

// Dialer builds the transport for a session, binding its callbacks.
type Dialer func(chatRef string, h transport.Handlers) transport.Transport

// Session is the actor owning one chat's reconciliation state. A single
// goroutine drains an ordered event queue fed by transport callbacks
// and UI-facing commands, so the correlator, debouncer and manager
// never race against themselves. Store writes run on worker goroutines
// and are never awaited inside a handler.
type Session struct {
	cfg         Config
	tr          transport.Transport
	db          *store.DB
	bus         *bus.Bus
	machine     *status.Machine
	manager     *Manager
	correlator  *Correlator
	debouncer   *Debouncer
	provisioner Provisioner
	logger      *zap.Logger

	events  chan any
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	done    chan struct{}
}

// Actor queue events.
type (
	evConnect      struct{}
	evDisconnect   struct{}
	evConnected    struct{}
	evDisconnected struct{ cause error }
	evClosed       struct {
		code   int
		reason string
	}
	evErrored     struct{ reason error }
	evReceive     struct{ env *envelope.Envelope }
	evSent        struct{ env *envelope.Envelope }
	evSend        struct{ env *envelope.Envelope }
	evMarkSeen    struct{ msgID string }
	evSetPresence struct{ status envelope.PresenceStatus }
	evProvisioned struct{ err error }
)

// NewSession creates a session actor. dial is invoked once with
// handlers that feed the actor queue.
func NewSession(cfg Config, dial Dialer, db *store.DB, b *bus.Bus, prov Provisioner, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:         cfg,
		db:          db,
		bus:         b,
		provisioner: prov,
		logger:      logger.With(zap.String("chat_ref", cfg.ChatRef)),
		events:      make(chan any, 256),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.tr = dial(cfg.ChatRef, transport.Handlers{
		OnConnect:    func() { s.enqueue(evConnected{}) },
		OnDisconnect: func(cause error) { s.enqueue(evDisconnected{cause: cause}) },
		OnClose:      func(code int, reason string) { s.enqueue(evClosed{code: code, reason: reason}) },
		OnError:      func(reason error) { s.enqueue(evErrored{reason: reason}) },
		OnReceive:    func(env *envelope.Envelope) { s.enqueue(evReceive{env: env}) },
		OnSent:       func(env *envelope.Envelope) { s.enqueue(evSent{env: env}) },
	})
	s.machine = status.NewMachine(cfg.ChatRef, b)
	s.correlator = NewCorrelator(0)
	s.debouncer = NewDebouncer(cfg.ChatRef, cfg.LocalUser, cfg.PeerUser)
	s.manager = NewManager(cfg, s.tr, db, s.machine, s.logger)
	return s
}

// Start launches the actor loop.
func (s *Session) Start() {
	go s.loop()
}

// Stop tears the session down: the transport is disconnected, all
// outstanding workers are cancelled and awaited. Unflushed in-flight
// items beyond what the store already holds are discarded.
func (s *Session) Stop() {
	s.cancel()
	s.tr.Disconnect()
	<-s.done
	s.workers.Wait()
}

// Connect requests a connection. The outbox is read before dialing and
// flushed once the transport reports the connect.
func (s *Session) Connect() { s.enqueue(evConnect{}) }

// Disconnect requests a clean disconnect without teardown.
func (s *Session) Disconnect() { s.enqueue(evDisconnect{}) }

// SendText queues a content message. It is persisted as provisional
// outbound state and transmitted now or on the next connect. Returns
// the envelope id.
func (s *Session) SendText(body string) string {
	env := envelope.NewContent(s.cfg.ChatRef, s.cfg.LocalUser, s.cfg.PeerUser, body)
	env.ReadReceiptEnabled = s.cfg.ReadReceipts
	s.enqueue(evSend{env: env})
	return env.ID
}

// MarkSeen stamps a received message as seen and, when read receipts
// are enabled, loops the stamped envelope back to its sender.
func (s *Session) MarkSeen(msgID string) { s.enqueue(evMarkSeen{msgID: msgID}) }

// SetPresence records an explicit local presence transition and always
// broadcasts it.
func (s *Session) SetPresence(st envelope.PresenceStatus) { s.enqueue(evSetPresence{status: st}) }

// State returns the session's connection state.
func (s *Session) State() status.State { return s.machine.Current() }

func (s *Session) enqueue(ev any) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case evConnect:
		s.handleConnect()
	case evDisconnect:
		s.tr.Disconnect()
		if s.machine.Current() != status.Disconnected {
			_ = s.machine.Transition(status.Disconnected)
		}
	case evConnected:
		s.manager.HandleConnected()
		s.transmit(s.debouncer.Announce())
	case evDisconnected:
		s.handleDisconnected(ev.cause)
	case evClosed:
		s.logger.Info("transport closed", zap.Int("code", ev.code), zap.String("reason", ev.reason))
	case evErrored:
		s.logger.Warn("transport error", zap.Error(ev.reason))
		s.bus.Emit("chat.error", ev.reason)
	case evReceive:
		s.handleInbound(ev.env)
	case evSent:
		s.handleSentEcho(ev.env)
	case evSend:
		if err := s.manager.Send(ev.env); err != nil {
			s.logger.Error("send failed", zap.String("msg_id", ev.env.ID), zap.Error(err))
			s.bus.Emit("chat.error", err)
		}
	case evMarkSeen:
		s.handleMarkSeen(ev.msgID)
	case evSetPresence:
		s.transmit(s.debouncer.SetStatus(ev.status))
	case evProvisioned:
		if s.manager.HandleProvisionResult(ev.err) {
			s.handleConnect()
		} else {
			s.logger.Error("room provisioning failed", zap.Error(ev.err))
			s.bus.Emit("chat.error", ev.err)
		}
	}
}

func (s *Session) handleConnect() {
	dial, err := s.manager.PrepareConnect()
	if err != nil {
		s.logger.Error("connect preparation failed", zap.Error(err))
		s.bus.Emit("chat.error", err)
		return
	}
	if !dial {
		// Already connected; a redundant request must not open a
		// second socket.
		return
	}
	// Dial on a worker; the outcome arrives as a connect or disconnect
	// event so the queue is never blocked behind the handshake.
	s.spawn(func() {
		_ = s.tr.Connect(s.ctx)
	})
}

func (s *Session) handleDisconnected(cause error) {
	if !s.manager.HandleDisconnect(cause) {
		s.bus.Emit("session.disconnected", DisconnectEvent{ChatRef: s.cfg.ChatRef, Cause: cause})
		return
	}
	s.spawn(func() {
		err := s.provisioner.CreateRoom(s.ctx, provision.Request{
			LocalUser:     s.cfg.LocalUser,
			PeerUser:      s.cfg.PeerUser,
			ChatReference: s.cfg.ChatRef,
		})
		s.enqueue(evProvisioned{err: err})
	})
}

// handleInbound demultiplexes one inbound envelope: presence signals go
// to the debouncer, status signals propagate and are discarded, content
// goes through the correlator into the store.
func (s *Session) handleInbound(env *envelope.Envelope) {
	if err := env.Validate(); err != nil {
		s.logger.Warn("dropping malformed envelope", zap.Error(err))
		return
	}

	switch envelope.Classify(env) {
	case envelope.KindPresence:
		st, _ := envelope.ParsePresenceStatus(env.PresenceStatus)
		s.bus.Emit("chat.presence", PresenceEvent{ChatRef: env.ChatReference, User: env.Sender, Status: st})
		s.transmit(s.debouncer.HandlePeerPresence(env.ID))
	case envelope.KindStatus:
		s.handleStatusSignal(env)
	case envelope.KindContent:
		s.handleContent(env)
	}
}

func (s *Session) handleStatusSignal(env *envelope.Envelope) {
	st, _ := envelope.ParseMessageStatus(env.MessageStatus)
	switch st {
	case envelope.Typing, envelope.NotTyping:
		s.bus.Emit("chat.typing", TypingEvent{
			ChatRef: env.ChatReference,
			User:    env.Sender,
			Typing:  st == envelope.Typing,
		})
	case envelope.Delivered:
		deliveredAt := env.DeliveredAt
		if deliveredAt <= 0 {
			s.logger.Warn("delivered signal without stamp", zap.String("msg_id", env.ID))
			return
		}
		s.persist("set delivered", func() error {
			return s.db.SetDelivered(env.ID, env.ChatReference, deliveredAt)
		})
	case envelope.Seen:
		seenAt := env.SeenAt
		if seenAt <= 0 {
			s.logger.Warn("seen signal without stamp", zap.String("msg_id", env.ID))
			return
		}
		s.persist("set seen", func() error {
			return s.db.SetSeen(env.ID, env.ChatReference, seenAt)
		})
	}
	// Status signals are never persisted as user-visible messages.
}

func (s *Session) handleContent(env *envelope.Envelope) {
	s.correlator.Stamp(env)

	if env.Sender == s.cfg.LocalUser {
		// The engine forwarded our own message back with the receiver's
		// delivery stamp: confirm the outbox entry.
		deliveredAt := env.DeliveredAt
		s.persist("confirm delivery", func() error {
			return s.db.SetDelivered(env.ID, env.ChatReference, deliveredAt)
		})
		return
	}

	msg := toStoreMessage(env, store.StatusReceived)
	s.persist("store message", func() error {
		return s.db.StoreMessage(msg)
	})
	// In-memory state is not rolled back on a store failure; a later
	// resync reconciles.
	s.bus.Emit("chat.message", MessageEvent{Message: msg, Inbound: true})
}

func (s *Session) handleSentEcho(env *envelope.Envelope) {
	switch envelope.Classify(env) {
	case envelope.KindPresence:
		s.debouncer.ConfirmSent(env.ID)
	case envelope.KindContent:
		// Only a pending message moving to sent reaches the projector.
		// A re-flushed undelivered message echoes too, but replaying it
		// would regress the conversation summary to the older message.
		s.spawn(func() {
			moved, err := s.db.MarkSent(env.ID, env.ChatReference)
			if err != nil {
				s.logger.Error("store write failed", zap.String("op", "mark sent"), zap.Error(err))
				s.bus.Emit("chat.error", err)
				return
			}
			if !moved {
				return
			}
			s.bus.Emit("chat.message", MessageEvent{
				Message: toStoreMessage(env, store.StatusSent),
				Inbound: false,
			})
		})
	}
}

func (s *Session) handleMarkSeen(msgID string) {
	chatRef := s.cfg.ChatRef
	returnReceipts := s.cfg.ReadReceipts
	s.spawn(func() {
		msg, err := s.db.GetMessage(msgID, chatRef)
		if err != nil || msg == nil {
			if err != nil {
				s.logger.Error("load message for seen", zap.String("msg_id", msgID), zap.Error(err))
			}
			return
		}
		seenAt := nowMilli()
		if err := s.db.SetSeen(msgID, chatRef, seenAt); err != nil {
			s.logger.Error("set seen", zap.String("msg_id", msgID), zap.Error(err))
			return
		}
		if !returnReceipts {
			return
		}
		receipt := toEnvelope(msg, true)
		receipt.SeenAt = seenAt
		if err := s.tr.ReturnMessage(receipt); err != nil {
			s.logger.Warn("read receipt not returned", zap.String("msg_id", msgID), zap.Error(err))
		}
	})
}

// transmit sends a control envelope, tolerating a dead socket: control
// signals are not queued, the next reconnect re-announces.
func (s *Session) transmit(env *envelope.Envelope) {
	if env == nil {
		return
	}
	if err := s.tr.SendMessage(env); err != nil {
		s.logger.Debug("control envelope dropped", zap.String("id", env.ID), zap.Error(err))
	}
}

// persist runs a store write on a worker so a slow disk never blocks
// the next envelope. Failures are logged and surfaced, never fatal.
func (s *Session) persist(op string, fn func() error) {
	s.spawn(func() {
		if err := fn(); err != nil {
			s.logger.Error("store write failed", zap.String("op", op), zap.Error(err))
			s.bus.Emit("chat.error", err)
		}
	})
}

func (s *Session) spawn(fn func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
}
