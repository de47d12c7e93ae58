package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/model"
	"github.com/sakif/chat-relay/internal/presence"
	"github.com/sakif/chat-relay/internal/protocol"
	"github.com/sakif/chat-relay/internal/repository"
)

// =========================================================================
// MOCK GATEWAY
// =========================================================================
//
// mockGateway keeps users, friend edges and messages in memory and
// implements repository.Gateway. Each fail* field forces the matching
// operation to return a persistence error.

var errStorageDown = errors.New("storage down")

type mockGateway struct {
	mu       sync.Mutex
	users    map[string]model.User
	edges    map[[2]string]bool
	messages []model.Message
	nextID   int
	clock    time.Time

	failUpsert       bool
	failListFriends  bool
	failInsertEdge   bool
	failInsertMsg    bool
	failConversation bool
}

var _ repository.Gateway = (*mockGateway)(nil)

func newMockGateway() *mockGateway {
	return &mockGateway{
		users: make(map[string]model.User),
		edges: make(map[[2]string]bool),
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *mockGateway) UpsertUser(_ context.Context, identity, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return apperror.Persistence("upsert user", errStorageDown)
	}
	m.users[identity] = model.User{Identity: identity, DisplayName: displayName}
	return nil
}

func (m *mockGateway) GetUser(_ context.Context, identity string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[identity]
	if !ok {
		return nil, apperror.NotFound("user", identity)
	}
	return &u, nil
}

func (m *mockGateway) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *mockGateway) InsertFriendEdgeBothDirections(_ context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertEdge {
		return false, apperror.Persistence("insert friend edge", errStorageDown)
	}
	created := !m.edges[[2]string{a, b}] || !m.edges[[2]string{b, a}]
	m.edges[[2]string{a, b}] = true
	m.edges[[2]string{b, a}] = true
	return created, nil
}

func (m *mockGateway) ListFriends(_ context.Context, identity string) ([]model.Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListFriends {
		return nil, apperror.Persistence("list friends", errStorageDown)
	}
	out := []model.Friend{}
	for edge := range m.edges {
		if edge[0] == identity {
			out = append(out, model.Friend{Identity: edge[1], DisplayName: m.users[edge[1]].DisplayName})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *mockGateway) InsertMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertMsg {
		return apperror.Persistence("insert message", errStorageDown)
	}
	m.nextID++
	m.clock = m.clock.Add(time.Second)
	msg.ID = fmt.Sprintf("msg-%d", m.nextID)
	msg.Timestamp = m.clock
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockGateway) ListConversation(_ context.Context, a, b string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConversation {
		return nil, apperror.Persistence("list conversation", errStorageDown)
	}
	out := []model.Message{}
	for _, msg := range m.messages {
		if (msg.Sender == a && msg.Receiver == b) || (msg.Sender == b && msg.Receiver == a) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockGateway) edgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

// =========================================================================
// RECORDING CONNECTION
// =========================================================================

type recordingConn struct {
	id     string
	mu     sync.Mutex
	events []protocol.Event
	closed bool
}

var _ presence.Conn = (*recordingConn)(nil)

func newRecordingConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// ofType returns the recorded events of one type, in order.
func (c *recordingConn) ofType(typ string) []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// =========================================================================
// TEST HELPERS
// =========================================================================

type fixture struct {
	registry  *presence.Registry
	repo      *mockGateway
	lifecycle *Lifecycle
	messaging *Messaging
	signaling *Signaling
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := presence.NewRegistry()
	repo := newMockGateway()
	logger := testLogger()
	return &fixture{
		registry:  reg,
		repo:      repo,
		lifecycle: NewLifecycle(reg, repo, repo, nil, logger),
		messaging: NewMessaging(reg, repo, logger),
		signaling: NewSignaling(reg, logger),
	}
}

// login logs identity in on a fresh recording connection.
func (f *fixture) login(t *testing.T, identity, name string) *recordingConn {
	t.Helper()
	conn := newRecordingConn("conn-" + identity)
	if err := f.lifecycle.Login(context.Background(), conn, identity, name); err != nil {
		t.Fatalf("Login(%s) error = %v", identity, err)
	}
	return conn
}

// befriend stores a friend edge directly, bypassing notifications.
func (f *fixture) befriend(a, b string) {
	f.repo.mu.Lock()
	f.repo.edges[[2]string{a, b}] = true
	f.repo.edges[[2]string{b, a}] = true
	f.repo.mu.Unlock()
}

// seedUser stores a user record without logging them in.
func (f *fixture) seedUser(identity, name string) {
	f.repo.mu.Lock()
	f.repo.users[identity] = model.User{Identity: identity, DisplayName: name}
	f.repo.mu.Unlock()
}
