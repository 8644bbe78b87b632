package chat

import (
	"errors"
	"slices"

	"github.com/mcoutinho/pigeon/internal/envelope"
	"github.com/mcoutinho/pigeon/internal/status"
	"github.com/mcoutinho/pigeon/internal/store"
	"github.com/mcoutinho/pigeon/internal/transport"
	"go.uber.org/zap"
)

// Manager owns the reconnect state machine and the outbox for one chat.
// Every method is called from the session actor goroutine only.
type Manager struct {
	cfg     Config
	tr      transport.Transport
	db      *store.DB
	machine *status.Machine
	logger  *zap.Logger

	held        []*store.Message // outbox read at connect time, flushed on OnConnect
	provisioned bool             // one provisioning attempt per disconnect event
}

// NewManager creates a reconnect/outbox manager.
func NewManager(cfg Config, tr transport.Transport, db *store.DB, machine *status.Machine, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		tr:      tr,
		db:      db,
		machine: machine,
		logger:  logger,
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// PrepareConnect reads the full outbox and holds it for the flush that
// follows a successful connect. The caller dials the transport on a
// worker; the outcome arrives as a connect or disconnect event.
// Returns false when the session is already connected and no dial
// should be made.
func (m *Manager) PrepareConnect() (bool, error) {
	if m.machine.Current() == status.Connected {
		return false, nil
	}
	held, err := m.loadOutbox()
	if err != nil {
		return false, err
	}
	m.held = held
	if err := m.machine.Transition(status.Connecting); err != nil {
		return false, err
	}
	return true, nil
}

// loadOutbox merges undelivered and pending messages, de-duplicated by
// id (an undelivered entry wins, it carries the original send attempt),
// ordered by original send timestamp ascending.
func (m *Manager) loadOutbox() ([]*store.Message, error) {
	undelivered, err := m.db.Undelivered(m.cfg.LocalUser, m.cfg.ChatRef)
	if err != nil {
		return nil, err
	}
	pending, err := m.db.Pending(m.cfg.ChatRef)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(undelivered))
	merged := make([]*store.Message, 0, len(undelivered)+len(pending))
	for _, msg := range undelivered {
		seen[msg.MsgID] = struct{}{}
		merged = append(merged, msg)
	}
	for _, msg := range pending {
		if _, dup := seen[msg.MsgID]; dup {
			continue
		}
		merged = append(merged, msg)
	}
	slices.SortStableFunc(merged, func(a, b *store.Message) int {
		switch {
		case a.SentAt < b.SentAt:
			return -1
		case a.SentAt > b.SentAt:
			return 1
		default:
			return 0
		}
	})
	return merged, nil
}

// HandleConnected flushes the held outbox through the transport in
// original chronological order. Called on the transport's OnConnect.
func (m *Manager) HandleConnected() {
	if err := m.machine.Transition(status.Connected); err != nil {
		m.logger.Warn("unexpected connect", zap.Error(err))
		return
	}
	m.provisioned = false

	held := m.held
	m.held = nil
	for _, msg := range held {
		env := toEnvelope(msg, m.cfg.ReadReceipts)
		if err := m.tr.SendMessage(env); err != nil {
			// Remaining messages stay pending/undelivered in the store
			// and are retried on the next connect.
			m.logger.Warn("outbox flush interrupted",
				zap.String("msg_id", msg.MsgID), zap.Error(err))
			return
		}
	}
	if len(held) > 0 {
		m.logger.Info("outbox flushed", zap.Int("messages", len(held)))
	}
}

// HandleDisconnect reacts to a transport failure. It returns true when
// the cause is the remediable room-missing condition and a provisioning
// attempt should be made; false means the cause is surfaced unchanged
// and no automatic retry is initiated here.
func (m *Manager) HandleDisconnect(cause error) bool {
	if m.machine.Current() != status.Disconnected {
		_ = m.machine.Transition(status.Disconnected)
	}
	if !errors.Is(cause, transport.ErrRoomNotFound) {
		return false
	}
	if m.provisioned {
		// Second consecutive room-missing failure: surface it instead
		// of retrying.
		return false
	}
	m.provisioned = true
	if err := m.machine.Transition(status.Provisioning); err != nil {
		m.logger.Warn("cannot enter provisioning", zap.Error(err))
		return false
	}
	return true
}

// HandleProvisionResult records the outcome of the provisioning RPC.
// Returns true when a single reconnect should follow.
func (m *Manager) HandleProvisionResult(err error) bool {
	if err != nil {
		_ = m.machine.Transition(status.Disconnected)
		return false
	}
	return true
}

// Send persists env as provisional outbound state and, when connected,
// hands it to the transport. While disconnected the message stays
// pending and is flushed on the next successful connect.
func (m *Manager) Send(env *envelope.Envelope) error {
	if err := m.db.StoreMessage(toStoreMessage(env, store.StatusPending)); err != nil {
		return err
	}
	if m.machine.Current() != status.Connected {
		return nil
	}
	return m.tr.SendMessage(env)
}
