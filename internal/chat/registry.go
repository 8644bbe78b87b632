package chat

import (
	"sync"

	"github.com/mcoutinho/pigeon/internal/bus"
	"github.com/mcoutinho/pigeon/internal/store"
	"go.uber.org/zap"
)

// Registry owns the active session actors, one per chat reference.
type Registry struct {
	localUser    string
	readReceipts bool
	dial         Dialer
	db           *store.DB
	bus          *bus.Bus
	provisioner  Provisioner
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry.
func NewRegistry(localUser string, readReceipts bool, dial Dialer, db *store.DB, b *bus.Bus, prov Provisioner, logger *zap.Logger) *Registry {
	return &Registry{
		localUser:    localUser,
		readReceipts: readReceipts,
		dial:         dial,
		db:           db,
		bus:          b,
		provisioner:  prov,
		logger:       logger,
		sessions:     make(map[string]*Session),
	}
}

// Open returns the session for chatRef, starting a new actor when none
// is active.
func (r *Registry) Open(chatRef, peerUser string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[chatRef]; ok {
		return s
	}
	s := NewSession(Config{
		ChatRef:      chatRef,
		LocalUser:    r.localUser,
		PeerUser:     peerUser,
		ReadReceipts: r.readReceipts,
	}, r.dial, r.db, r.bus, r.provisioner, r.logger)
	s.Start()
	r.sessions[chatRef] = s
	return s
}

// Get returns an active session, or nil.
func (r *Registry) Get(chatRef string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[chatRef]
}

// Close tears down one session.
func (r *Registry) Close(chatRef string) {
	r.mu.Lock()
	s, ok := r.sessions[chatRef]
	delete(r.sessions, chatRef)
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// CloseAll tears down every active session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
