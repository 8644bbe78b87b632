package store

// Message status values. A message is born "pending" (queued locally,
// never handed to the transport), becomes "sent" once the transport
// confirms the send, "delivered" once a delivery stamp is correlated,
// "seen" once the peer's read receipt comes back, and "failed" when a
// send is given up on. Inbound messages are stored as "received".
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
	StatusFailed    = "failed"
	StatusReceived  = "received"
)

// Message is a persisted content message. Zero timestamps mean unset.
type Message struct {
	ID          int64
	MsgID       string
	ChatRef     string
	Sender      string
	Receiver    string
	Body        string
	Status      string
	SentAt      int64
	DeliveredAt int64
	SeenAt      int64
}

// Conversation is one row of the conversation summary list.
type Conversation struct {
	ChatRef         string
	OtherUser       string
	LastMessageText string
	LastMessageAt   int64
	UnreadCount     int
	AvatarRef       string
}
