package envelope

// Kind is the disambiguated envelope variant. Downstream components
// receive an already-classified envelope and never re-check the
// optional fields.
type Kind int

const (
	// KindContent is a user-authored chat message.
	KindContent Kind = iota
	// KindPresence is an ONLINE/AWAY/OFFLINE broadcast.
	KindPresence
	// KindStatus is a typing/delivery/seen transition signal.
	KindStatus
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindPresence:
		return "presence"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Classify resolves the envelope's kind. A recognized presence status wins,
// then a recognized message status, otherwise the envelope is content.
// Unrecognized control strings fall through to content.
func Classify(e *Envelope) Kind {
	if _, ok := ParsePresenceStatus(e.PresenceStatus); ok {
		return KindPresence
	}
	if _, ok := ParseMessageStatus(e.MessageStatus); ok {
		return KindStatus
	}
	return KindContent
}
