package chat

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"campusconnect/internal/user"
)

type memStore struct {
	mu        sync.Mutex
	byID      map[string]*Message
	order     []string
	clock     time.Time
	insertErr error
	inserts   int
	// entered, when set, is signalled as Insert starts; Insert then blocks until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		byID:  make(map[string]*Message),
		clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) Insert(ctx context.Context, msg *Message) (*Message, bool, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, false, s.insertErr
	}
	if msg.ID != "" {
		if existing, ok := s.byID[msg.ID]; ok {
			cp := *existing
			return &cp, false, nil
		}
	}
	m := *msg
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.CreatedAt.IsZero() {
		s.clock = s.clock.Add(time.Millisecond)
		m.CreatedAt = s.clock
	}
	s.byID[m.ID] = &m
	s.order = append(s.order, m.ID)
	s.inserts++
	cp := m
	return &cp, true, nil
}

func (s *memStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) all(keep func(*Message) bool) []*Message {
	var out []*Message
	for _, id := range s.order {
		if m := s.byID[id]; keep(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out
}

func (s *memStore) ListConversation(ctx context.Context, key Key) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.all(func(m *Message) bool { return m.ConversationKey == key })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListForUser(ctx context.Context, userID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.all(func(m *Message) bool { return m.SenderID == userID || m.RecipientID == userID })
	slices.Reverse(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) MarkRead(ctx context.Context, key Key, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.byID {
		if m.ConversationKey == key && m.RecipientID == readerID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) Stats(ctx context.Context, userID string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, m := range s.byID {
		if m.SenderID == userID {
			st.TotalSent++
		}
		if m.RecipientID == userID {
			st.TotalReceived++
			if !m.Read {
				st.UnreadCount++
			}
		}
	}
	st.Total = st.TotalSent + st.TotalReceived
	return st, nil
}

// put stores a raw record, bypassing validation, to simulate legacy data.
func (s *memStore) put(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[m.ID] = &m
	s.order = append(s.order, m.ID)
}

type memDirectory struct {
	mu    sync.Mutex
	users map[string]*user.User
	err   error
}

func newMemDirectory(users ...*user.User) *memDirectory {
	d := &memDirectory{users: make(map[string]*user.User)}
	for _, u := range users {
		cp := *u
		d.users[u.ID] = &cp
	}
	return d
}

func (d *memDirectory) GetUser(ctx context.Context, id string) (*user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (d *memDirectory) setRole(id string, role user.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id].Role = role
}

type relayed struct {
	userID string
	env    Envelope
}

// recordingRelay delivers to users marked online and records every frame.
type recordingRelay struct {
	mu     sync.Mutex
	online map[string]bool
	sent   []relayed
}

func newRecordingRelay(online ...string) *recordingRelay {
	r := &recordingRelay{online: make(map[string]bool)}
	for _, id := range online {
		r.online[id] = true
	}
	return r
}

func (r *recordingRelay) SendTo(ctx context.Context, userID string, frame []byte) RelayResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[userID] {
		return RelayOffline
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic(err)
	}
	r.sent = append(r.sent, relayed{userID: userID, env: env})
	return RelayLocal
}

func (r *recordingRelay) events(userID, eventType string) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, s := range r.sent {
		if s.userID == userID && s.env.Type == eventType {
			out = append(out, s.env)
		}
	}
	return out
}

var (
	studentS1 = &user.User{ID: "s1", Name: "Asha", Role: user.RoleStudent, Department: "CSE", Batch: "2027"}
	studentS2 = &user.User{ID: "s2", Name: "Ben", Role: user.RoleStudent, Department: "ECE", Batch: "2026"}
	alumnusA1 = &user.User{ID: "a1", Name: "Chidi", Role: user.RoleAlumni, Department: "CSE", Batch: "2015"}
	alumnusA2 = &user.User{ID: "a2", Name: "Dana", Role: user.RoleAlumni, Department: "ME", Batch: "2012"}
)

type fixture struct {
	store *memStore
	dir   *memDirectory
	relay *recordingRelay
	svc   *Service
}

func newFixture(t *testing.T, online ...string) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		dir:   newMemDirectory(studentS1, studentS2, alumnusA1, alumnusA2),
		relay: newRecordingRelay(online...),
	}
	f.svc = NewService(f.store, f.dir, f.relay, zerolog.Nop())
	return f
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return v
}
