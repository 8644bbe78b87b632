package chat

import "github.com/mcoutinho/pigeon/internal/envelope"

// Debouncer answers every distinct peer activity burst with at most one
// presence broadcast. Peer pings carrying a message id already answered
// are suppressed; explicit local transitions always broadcast.
//
// Not safe for concurrent use; it lives inside a single session actor.
type Debouncer struct {
	chatRef   string
	localUser string
	peerUser  string

	current         envelope.PresenceStatus
	outstandingID   string
	lastAckedPeerID string
}

// NewDebouncer creates a debouncer starting in the Offline state.
func NewDebouncer(chatRef, localUser, peerUser string) *Debouncer {
	return &Debouncer{
		chatRef:   chatRef,
		localUser: localUser,
		peerUser:  peerUser,
		current:   envelope.Offline,
	}
}

// HandlePeerPresence reacts to an inbound presence envelope carrying
// peer message id m. Returns the broadcast to transmit, or nil when the
// burst was already answered.
func (d *Debouncer) HandlePeerPresence(m string) *envelope.Envelope {
	if m == "" || d.lastAckedPeerID == m {
		return nil
	}
	env := envelope.NewPresence(d.chatRef, d.localUser, d.peerUser, d.current)
	d.outstandingID = env.ID
	d.lastAckedPeerID = m
	return env
}

// SetStatus records an explicit local transition (app foregrounded or
// backgrounded) and returns the broadcast. Explicit transitions bypass
// burst suppression.
func (d *Debouncer) SetStatus(status envelope.PresenceStatus) *envelope.Envelope {
	d.current = status
	env := envelope.NewPresence(d.chatRef, d.localUser, d.peerUser, status)
	d.outstandingID = env.ID
	return env
}

// Announce re-broadcasts the current status without changing it, used
// after a reconnect.
func (d *Debouncer) Announce() *envelope.Envelope {
	return d.SetStatus(d.current)
}

// ConfirmSent correlates a transport send echo with the outstanding
// broadcast, so a later resend pass can see it already went out.
func (d *Debouncer) ConfirmSent(id string) {
	d.outstandingID = id
}

// Status returns the current local presence status.
func (d *Debouncer) Status() envelope.PresenceStatus {
	return d.current
}

// OutstandingID returns the id of the most recent broadcast.
func (d *Debouncer) OutstandingID() string {
	return d.outstandingID
}
