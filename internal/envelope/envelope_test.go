package envelope

import (
	"errors"
	"testing"
)

func TestClassifyContent(t *testing.T) {
	env := NewContent("c1", "alice", "bob", "hello")
	if got := Classify(env); got != KindContent {
		t.Errorf("kind = %s, want content", got)
	}
}

func TestClassifyPresence(t *testing.T) {
	env := NewPresence("c1", "alice", "bob", Online)
	if got := Classify(env); got != KindPresence {
		t.Errorf("kind = %s, want presence", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	env := NewStatus("c1", "alice", "bob", Typing)
	if got := Classify(env); got != KindStatus {
		t.Errorf("kind = %s, want status", got)
	}
}

// A presence field wins over a status field when both are set; the two
// are mutually exclusive on a well-formed envelope but the classifier
// must still pick exactly one kind.
func TestClassifyPresenceWinsOverStatus(t *testing.T) {
	env := NewPresence("c1", "alice", "bob", Away)
	env.MessageStatus = string(Typing)
	if got := Classify(env); got != KindPresence {
		t.Errorf("kind = %s, want presence", got)
	}
}

// Unrecognized control values fall through to content instead of being
// rejected.
func TestClassifyUnknownControlFailsOpen(t *testing.T) {
	tests := []struct {
		name     string
		presence string
		status   string
	}{
		{"unknown presence", "INVISIBLE", ""},
		{"unknown status", "", "REACTING"},
		{"both unknown", "INVISIBLE", "REACTING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewContent("c1", "alice", "bob", "")
			env.PresenceStatus = tt.presence
			env.MessageStatus = tt.status
			if got := Classify(env); got != KindContent {
				t.Errorf("kind = %s, want content (fail-open)", got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	env := NewContent("c1", "alice", "bob", "hi")
	if err := env.Validate(); err != nil {
		t.Errorf("valid envelope rejected: %v", err)
	}

	missingID := *env
	missingID.ID = ""
	if err := missingID.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing id error = %v, want ErrMalformed", err)
	}

	missingRef := *env
	missingRef.ChatReference = ""
	if err := missingRef.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing chat ref error = %v, want ErrMalformed", err)
	}

	missingTs := *env
	missingTs.SentAt = 0
	if err := missingTs.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing sent timestamp error = %v, want ErrMalformed", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	env := NewContent("c1", "alice", "bob", "hello")
	env.DeliveredAt = env.SentAt + 5

	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}

	var decoded Envelope
	if err := decoded.Decode(data); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != env.ID || decoded.Body != "hello" || decoded.DeliveredAt != env.DeliveredAt {
		t.Errorf("decoded = %+v, want %+v", decoded, *env)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var env Envelope
	if err := env.Decode([]byte("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestParseEnums(t *testing.T) {
	if st, ok := ParsePresenceStatus("AWAY"); !ok || st != Away {
		t.Errorf("ParsePresenceStatus(AWAY) = %v, %v", st, ok)
	}
	if _, ok := ParsePresenceStatus(""); ok {
		t.Error("empty presence status should not parse")
	}
	if st, ok := ParseMessageStatus("NOT_TYPING"); !ok || st != NotTyping {
		t.Errorf("ParseMessageStatus(NOT_TYPING) = %v, %v", st, ok)
	}
	if _, ok := ParseMessageStatus("online"); ok {
		t.Error("lowercase value should not parse")
	}
}
