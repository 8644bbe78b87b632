// Package roster maintains the conversation summary list from the
// content-message stream, without a live subscription to full message
// history.
package roster

import (
	"context"
	"slices"
	"sync"

	"github.com/mcoutinho/pigeon/internal/bus"
	"github.com/mcoutinho/pigeon/internal/chat"
	"github.com/mcoutinho/pigeon/internal/store"
	"go.uber.org/zap"
)

// Projector is the app-wide actor consuming "chat.message" events and
// projecting them onto conversation summaries. The in-memory list is
// authoritative; store writes are last-writer-wins and asynchronous.
type Projector struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu         sync.RWMutex
	index      map[string]*store.Conversation
	list       []*store.Conversation // sorted by LastMessageAt descending
	foreground string

	workers sync.WaitGroup
}

// NewProjector creates a projector.
func NewProjector(db *store.DB, b *bus.Bus, logger *zap.Logger) *Projector {
	return &Projector{
		db:     db,
		bus:    b,
		logger: logger,
		index:  make(map[string]*store.Conversation),
	}
}

// Start loads persisted summaries and subscribes to the message stream.
func (p *Projector) Start(ctx context.Context) error {
	convs, err := p.db.Conversations()
	if err != nil {
		return err
	}
	p.mu.Lock()
	for _, c := range convs {
		p.index[c.ChatRef] = c
		p.list = append(p.list, c)
	}
	p.resortLocked()
	p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe("chat.message", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				me, ok := evt.Payload.(chat.MessageEvent)
				if !ok {
					continue
				}
				p.Apply(me.Message, me.Inbound)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts the projector and waits for outstanding store writes.
func (p *Projector) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.workers.Wait()
}

// Apply projects one content message onto the summary list. The unread
// counter grows only for inbound messages while the chat is not in the
// foreground; a first contact from an unknown chat reference
// synthesizes a new summary through the same creation path the user's
// explicit chat start uses.
func (p *Projector) Apply(msg *store.Message, inbound bool) {
	p.mu.Lock()
	c, ok := p.index[msg.ChatRef]
	created := false
	if !ok {
		other := msg.Sender
		if !inbound {
			other = msg.Receiver
		}
		c = &store.Conversation{ChatRef: msg.ChatRef, OtherUser: other}
		p.index[msg.ChatRef] = c
		p.list = append(p.list, c)
		created = true
	}
	c.LastMessageText = msg.Body
	c.LastMessageAt = msg.SentAt
	if inbound && p.foreground != msg.ChatRef {
		c.UnreadCount++
	}
	p.resortLocked()
	snapshot := *c
	p.mu.Unlock()

	p.store(&snapshot)
	if created {
		p.bus.Emit("conversation.created", snapshot)
	} else {
		p.bus.Emit("conversation.updated", snapshot)
	}
}

// StartChat creates a summary for a chat the user explicitly started.
// It shares the creation event path with inbound synthesis.
func (p *Projector) StartChat(chatRef, otherUser string) {
	p.mu.Lock()
	if _, ok := p.index[chatRef]; ok {
		p.mu.Unlock()
		return
	}
	c := &store.Conversation{ChatRef: chatRef, OtherUser: otherUser}
	p.index[chatRef] = c
	p.list = append(p.list, c)
	p.resortLocked()
	snapshot := *c
	p.mu.Unlock()

	p.store(&snapshot)
	p.bus.Emit("conversation.created", snapshot)
}

// SetForeground marks the chat currently on screen; inbound messages
// for it do not count as unread.
func (p *Projector) SetForeground(chatRef string) {
	p.mu.Lock()
	p.foreground = chatRef
	p.mu.Unlock()
}

// MarkOpened zeroes the unread counter for a chat. The last message
// fields are left untouched.
func (p *Projector) MarkOpened(chatRef string) {
	p.mu.Lock()
	c, ok := p.index[chatRef]
	if !ok {
		p.mu.Unlock()
		return
	}
	c.UnreadCount = 0
	snapshot := *c
	p.mu.Unlock()

	chatRefCopy := chatRef
	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		if err := p.db.ZeroUnread(chatRefCopy); err != nil {
			p.logger.Error("zero unread failed", zap.String("chat_ref", chatRefCopy), zap.Error(err))
		}
	}()
	p.bus.Emit("conversation.updated", snapshot)
}

// Conversations returns a snapshot of the summary list, most recent
// conversation first.
func (p *Projector) Conversations() []store.Conversation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]store.Conversation, len(p.list))
	for i, c := range p.list {
		out[i] = *c
	}
	return out
}

// Get returns one summary snapshot, or nil.
func (p *Projector) Get(chatRef string) *store.Conversation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.index[chatRef]
	if !ok {
		return nil
	}
	snapshot := *c
	return &snapshot
}

func (p *Projector) resortLocked() {
	slices.SortStableFunc(p.list, func(a, b *store.Conversation) int {
		switch {
		case a.LastMessageAt > b.LastMessageAt:
			return -1
		case a.LastMessageAt < b.LastMessageAt:
			return 1
		default:
			return 0
		}
	})
}

// store persists a snapshot on a worker; the in-memory copy is not
// rolled back on failure.
func (p *Projector) store(c *store.Conversation) {
	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		if err := p.db.UpsertConversation(c); err != nil {
			p.logger.Error("conversation upsert failed", zap.String("chat_ref", c.ChatRef), zap.Error(err))
		}
	}()
}
