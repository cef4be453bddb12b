package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"studygroup-server/internal/apperr"
	"studygroup-server/internal/chat"
	"studygroup-server/internal/directory"
	"studygroup-server/internal/groups"
)

type recordingSink struct {
	mu     sync.Mutex
	events map[string][]chat.Event
}

func (s *recordingSink) Send(conn string, ev chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[conn] = append(s.events[conn], ev)
	return nil
}

func (s *recordingSink) received(conn string) []chat.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Event(nil), s.events[conn]...)
}

type fixture struct {
	dir      *directory.Directory
	registry *groups.Registry
	channel  *chat.Channel
	router   *Router
	sink     *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sink := &recordingSink{events: make(map[string][]chat.Event)}
	ch := chat.New(sink)
	dir := directory.New(directory.WithBcryptCost(bcrypt.MinCost))
	reg := groups.New(groups.WithLogRegistrar(ch))
	r := New(dir, reg, ch)
	ch.SetSubscribers(r)
	return &fixture{dir: dir, registry: reg, channel: ch, router: r, sink: sink}
}

func (f *fixture) user(t *testing.T, name string) directory.User {
	t.Helper()
	u, err := f.dir.Register(directory.Registration{
		Prename: name, Surname: "Test", Username: name, Email: name + "@example.com", Password: "pw",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) join(t *testing.T, u directory.User) groups.Group {
	t.Helper()
	g, _, err := f.registry.JoinGroup(u.ID, "Mathematik")
	require.NoError(t, err)
	return g
}

// Test: the full two-user scenario, join, chat and result
// Why: this is the flow every study group goes through
func TestRouter_Scenario(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	a := f.user(t, "anne")
	b := f.user(t, "mary")
	g := f.join(t, a)
	f.join(t, b)

	_, err := f.router.Bind("conn-a", a.ID, g.ID)
	require.NoError(t, err)
	aEvents := f.sink.received("conn-a")
	require.Len(t, aEvents, 1)
	assert.Equal(chat.EventHistory, aEvents[0].Type)
	assert.Len(aEvents[0].Messages, 1)

	_, err = f.router.Bind("conn-b", b.ID, g.ID)
	require.NoError(t, err)

	aEvents = f.sink.received("conn-a")
	require.Len(t, aEvents, 2)
	assert.Contains(aEvents[1].Message.Body, "mary ist der Crew beigetreten")

	bEvents := f.sink.received("conn-b")
	require.Len(t, bEvents, 1)
	assert.Len(bEvents[0].Messages, 2)

	msg, err := f.router.RouteChat("conn-a", "Hallo Crew")
	require.NoError(t, err)
	assert.Equal("anne", msg.Username)
	assert.Equal(a.ID, msg.UserID)

	_, err = f.router.RouteResult("conn-b", 4, 5)
	require.NoError(t, err)

	for _, conn := range []string{"conn-a", "conn-b"} {
		events := f.sink.received(conn)
		last := events[len(events)-1]
		assert.Equal(chat.KindResult, last.Message.Kind)
		assert.Contains(last.Message.Body, "4/5")
	}

	history, _ := f.channel.History(g.ID)
	assert.Len(history, 4)
}

func TestRouter_BindUnknownUserOrGroup(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "anne")
	g := f.join(t, a)

	_, err := f.router.Bind("c1", 99, g.ID)
	assert.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))

	_, err = f.router.Bind("c1", a.ID, 99)
	assert.Equal(t, apperr.CodeGroupNotFound, apperr.CodeOf(err))

	_, err = f.router.Binding("c1")
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, f.sink.received("c1"))
}

// Test: events from unbound connections change nothing
func TestRouter_UnboundIsNoop(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "anne")
	g := f.join(t, a)

	_, err := f.router.RouteChat("ghost", "hello")
	assert.Equal(t, apperr.CodeNotBound, apperr.CodeOf(err))
	_, err = f.router.RouteResult("ghost", 1, 1)
	assert.Equal(t, apperr.CodeNotBound, apperr.CodeOf(err))

	history, _ := f.channel.History(g.ID)
	assert.Empty(t, history)
}

// Test: rebinding to a new group stops delivery from the old one
func TestRouter_Rebind(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "anne")
	b := f.user(t, "mary")
	g1 := f.join(t, a)
	g2, err := f.registry.FindOrCreateGroup("Informatik")
	require.NoError(t, err)

	_, err = f.router.Bind("conn-a", a.ID, g1.ID)
	require.NoError(t, err)
	_, err = f.router.Bind("conn-a", a.ID, g2.ID)
	require.NoError(t, err)
	_, err = f.router.Bind("conn-b", b.ID, g1.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"conn-b"}, f.router.Subscribers(g1.ID))
	assert.Equal(t, []string{"conn-a"}, f.router.Subscribers(g2.ID))

	sub, err := f.router.Binding("conn-a")
	require.NoError(t, err)
	assert.Equal(t, g2.ID, sub.GroupID)
	assert.True(t, sub.Live)
}

// Test: a reconnecting user gets the full history, welcome lines included
func TestRouter_RejoinReplaysHistory(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "anne")
	g := f.join(t, a)

	_, err := f.router.Bind("conn-1", a.ID, g.ID)
	require.NoError(t, err)
	_, err = f.router.RouteChat("conn-1", "erste Nachricht")
	require.NoError(t, err)
	f.router.Unbind("conn-1")
	f.router.Unbind("conn-1")

	_, err = f.router.Bind("conn-2", a.ID, g.ID)
	require.NoError(t, err)

	events := f.sink.received("conn-2")
	require.Len(t, events, 1)
	msgs := events[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "erste Nachricht", msgs[1].Body)
	assert.Equal(t, chat.KindSystem, msgs[2].Kind)
	assert.Equal(t, 1, f.router.BoundCount())
}

// Test: empty chat is rejected without reaching anyone
func TestRouter_EmptyChat(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "anne")
	g := f.join(t, a)
	_, err := f.router.Bind("conn-a", a.ID, g.ID)
	require.NoError(t, err)

	_, err = f.router.RouteChat("conn-a", "   ")

	assert.True(t, apperr.IsInvalidInput(err))
	assert.Len(t, f.sink.received("conn-a"), 1)
}
