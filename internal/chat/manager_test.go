package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mcoutinho/pigeon/internal/envelope"
	"github.com/mcoutinho/pigeon/internal/status"
	"github.com/mcoutinho/pigeon/internal/store"
	"github.com/mcoutinho/pigeon/internal/transport"
	"go.uber.org/zap"
)

// fakeTransport records traffic and drives the handlers on demand.
type fakeTransport struct {
	mu       sync.Mutex
	handlers transport.Handlers
	sent     []*envelope.Envelope
	returned []*envelope.Envelope
	dialErr  error
	connects int
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	f.connects++
	dialErr := f.dialErr
	f.mu.Unlock()
	if dialErr != nil {
		if f.handlers.OnDisconnect != nil {
			f.handlers.OnDisconnect(dialErr)
		}
		return dialErr
	}
	if f.handlers.OnConnect != nil {
		f.handlers.OnConnect()
	}
	return nil
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) SendMessage(env *envelope.Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	if f.handlers.OnSent != nil {
		f.handlers.OnSent(env)
	}
	return nil
}

func (f *fakeTransport) ReturnMessage(env *envelope.Envelope) error {
	f.mu.Lock()
	f.returned = append(f.returned, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) sentEnvelopes() []*envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*envelope.Envelope(nil), f.sent...)
}

func (f *fakeTransport) returnedEnvelopes() []*envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*envelope.Envelope(nil), f.returned...)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) setDialErr(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testManager(t *testing.T, tr transport.Transport) (*Manager, *store.DB) {
	t.Helper()
	db := testDB(t)
	cfg := Config{ChatRef: "c1", LocalUser: "alice", PeerUser: "bob"}
	machine := status.NewMachine("c1", nil)
	return NewManager(cfg, tr, db, machine, zap.NewNop()), db
}

func queueMessage(t *testing.T, db *store.DB, id string, sentAt int64, msgStatus string) {
	t.Helper()
	err := db.StoreMessage(&store.Message{
		MsgID: id, ChatRef: "c1", Sender: "alice", Receiver: "bob",
		Body: "msg-" + id, Status: msgStatus, SentAt: sentAt,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// Pending messages queued while disconnected are flushed on reconnect
// in original chronological order.
func TestOutboxFlushOrder(t *testing.T) {
	tr := &fakeTransport{}
	m, db := testManager(t, tr)

	queueMessage(t, db, "m3", 3000, store.StatusPending)
	queueMessage(t, db, "m1", 1000, store.StatusPending)
	queueMessage(t, db, "m2", 2000, store.StatusPending)

	if _, err := m.PrepareConnect(); err != nil {
		t.Fatal(err)
	}
	m.HandleConnected()

	sent := tr.sentEnvelopes()
	if len(sent) != 3 {
		t.Fatalf("got %d sends, want 3", len(sent))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if sent[i].ID != want {
			t.Errorf("flush[%d] = %s, want %s", i, sent[i].ID, want)
		}
	}
}

// Undelivered (sent but unconfirmed) and pending messages merge into
// one flush, de-duplicated by id.
func TestOutboxMergesUndeliveredAndPending(t *testing.T) {
	tr := &fakeTransport{}
	m, db := testManager(t, tr)

	queueMessage(t, db, "m1", 1000, store.StatusSent)
	queueMessage(t, db, "m2", 2000, store.StatusPending)

	if _, err := m.PrepareConnect(); err != nil {
		t.Fatal(err)
	}
	m.HandleConnected()

	sent := tr.sentEnvelopes()
	if len(sent) != 2 {
		t.Fatalf("got %d sends, want 2", len(sent))
	}
	if sent[0].ID != "m1" || sent[1].ID != "m2" {
		t.Errorf("flush order = %s,%s, want m1,m2", sent[0].ID, sent[1].ID)
	}
}

func TestSendWhileDisconnectedPersistsOnly(t *testing.T) {
	tr := &fakeTransport{}
	m, db := testManager(t, tr)

	env := envelope.NewContent("c1", "alice", "bob", "offline message")
	if err := m.Send(env); err != nil {
		t.Fatal(err)
	}

	if got := len(tr.sentEnvelopes()); got != 0 {
		t.Errorf("got %d transport sends while disconnected, want 0", got)
	}
	pending, err := db.Pending("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].MsgID != env.ID {
		t.Fatalf("pending = %+v, want the queued message", pending)
	}
}

func TestSendWhileConnectedTransmits(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := testManager(t, tr)

	if _, err := m.PrepareConnect(); err != nil {
		t.Fatal(err)
	}
	m.HandleConnected()

	env := envelope.NewContent("c1", "alice", "bob", "live message")
	if err := m.Send(env); err != nil {
		t.Fatal(err)
	}
	sent := tr.sentEnvelopes()
	if len(sent) != 1 || sent[0].ID != env.ID {
		t.Fatalf("sent = %+v, want the live message", sent)
	}
}

func TestHandleDisconnectRoomMissing(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := testManager(t, tr)

	cause := fmt.Errorf("%w: dial rejected", transport.ErrRoomNotFound)
	if !m.HandleDisconnect(cause) {
		t.Fatal("room-missing disconnect should trigger provisioning")
	}
	if m.State() != status.Provisioning {
		t.Errorf("state = %s, want PROVISIONING", m.State())
	}

	// A failed provisioning attempt leaves the manager disconnected and
	// a second room-missing disconnect is surfaced, not remediated.
	if m.HandleProvisionResult(fmt.Errorf("boom")) {
		t.Error("failed provisioning should not request reconnect")
	}
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
	if m.HandleDisconnect(cause) {
		t.Error("second consecutive room-missing should be surfaced, not retried")
	}
}

func TestHandleDisconnectOtherCauseSurfaced(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := testManager(t, tr)

	if m.HandleDisconnect(fmt.Errorf("network flake")) {
		t.Error("non-room-missing cause must not trigger provisioning")
	}
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

// A successful reconnect clears the one-attempt provisioning latch.
func TestProvisionLatchResetsOnConnect(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := testManager(t, tr)

	cause := fmt.Errorf("%w", transport.ErrRoomNotFound)
	if !m.HandleDisconnect(cause) {
		t.Fatal("first room-missing should provision")
	}
	if !m.HandleProvisionResult(nil) {
		t.Fatal("successful provisioning should request reconnect")
	}
	if _, err := m.PrepareConnect(); err != nil {
		t.Fatal(err)
	}
	m.HandleConnected()

	if !m.HandleDisconnect(cause) {
		t.Error("room-missing after a successful connect should provision again")
	}
}

// A connect request while already connected must not re-enter the
// connect path.
func TestPrepareConnectAlreadyConnected(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := testManager(t, tr)

	dial, err := m.PrepareConnect()
	if err != nil {
		t.Fatal(err)
	}
	if !dial {
		t.Fatal("first connect should dial")
	}
	m.HandleConnected()

	dial, err = m.PrepareConnect()
	if err != nil {
		t.Fatal(err)
	}
	if dial {
		t.Error("redundant connect should not dial")
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
}
