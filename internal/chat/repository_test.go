package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusconnect/internal/db"
	"campusconnect/internal/user"
)

func newTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.NewDatabase(db.DriverSQLite, filepath.Join(t.TempDir(), "campus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate())
	return database
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository(newTestDatabase(t))
	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo
}

func TestRepositoryInsertAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	stored, created, err := repo.Insert(ctx, &Message{
		ConversationKey: "a1_s1",
		SenderID:        "s1",
		RecipientID:     "a1",
		Text:            "hello",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, stored.ID, 26, "ulid")
	assert.Equal(t, time.Date(2026, 2, 1, 8, 0, 1, 0, time.UTC), stored.CreatedAt)

	got, err := repo.GetMessage(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	missing, err := repo.GetMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryInsertIsIdempotentOnID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	msg := &Message{ID: "m-1", ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: "first"}

	first, created, err := repo.Insert(ctx, msg)
	require.NoError(t, err)
	require.True(t, created)

	retry := *msg
	retry.Text = "retried"
	second, created, err := repo.Insert(ctx, &retry)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	all, err := repo.ListConversation(ctx, "a1_s1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepositoryListOrdering(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	var ids []string
	for _, m := range []Message{
		{ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: "1"},
		{ConversationKey: "a1_s1", SenderID: "a1", RecipientID: "s1", Text: "2"},
		{ConversationKey: "a2_s1", SenderID: "a2", RecipientID: "s1", Text: "3"},
		{ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: "4"},
	} {
		stored, _, err := repo.Insert(ctx, &m)
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}

	conv, err := repo.ListConversation(ctx, "a1_s1")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, []string{ids[0], ids[1], ids[3]}, []string{conv[0].ID, conv[1].ID, conv[2].ID})

	mine, err := repo.ListForUser(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, mine, 4)
	assert.Equal(t, ids[3], mine[0].ID, "newest first")
	assert.Equal(t, ids[0], mine[3].ID)

	none, err := repo.ListConversation(ctx, "a9_s9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositorySameMillisecondKeepsInsertOrder(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"m-c", "m-b", "m-a"} {
		_, _, err := repo.Insert(ctx, &Message{
			ID: id, ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: id, CreatedAt: at,
		})
		require.NoError(t, err)
	}
	// Replaying an id must not move it.
	_, created, err := repo.Insert(ctx, &Message{
		ID: "m-c", ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: "m-c", CreatedAt: at,
	})
	require.NoError(t, err)
	require.False(t, created)

	conv, err := repo.ListConversation(ctx, "a1_s1")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, []string{"m-c", "m-b", "m-a"}, []string{conv[0].ID, conv[1].ID, conv[2].ID})

	mine, err := repo.ListForUser(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, []string{"m-a", "m-b", "m-c"}, []string{mine[0].ID, mine[1].ID, mine[2].ID})
}

func TestRepositoryMarkReadAndStats(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	for _, m := range []Message{
		{ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: "1"},
		{ConversationKey: "a1_s1", SenderID: "s1", RecipientID: "a1", Text: "2"},
		{ConversationKey: "a1_s1", SenderID: "a1", RecipientID: "s1", Text: "3"},
		{ConversationKey: "a2_s1", SenderID: "s1", RecipientID: "a2", Text: "4"},
	} {
		_, _, err := repo.Insert(ctx, &m)
		require.NoError(t, err)
	}

	st, err := repo.Stats(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalSent: 1, TotalReceived: 2, UnreadCount: 2, Total: 3}, st)

	n, err := repo.MarkRead(ctx, "a1_s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.MarkRead(ctx, "a1_s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err = repo.Stats(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.UnreadCount)

	conv, err := repo.ListConversation(ctx, "a1_s1")
	require.NoError(t, err)
	assert.True(t, conv[0].Read)
	assert.True(t, conv[1].Read)
	assert.False(t, conv[2].Read, "s1 has not read a1's reply")

	empty, err := repo.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)
}

func TestServiceOverSQLite(t *testing.T) {
	database := newTestDatabase(t)
	users := user.NewRepository(database)
	ctx := context.Background()
	for _, u := range []*user.User{studentS1, alumnusA1} {
		require.NoError(t, users.SaveUser(ctx, u))
	}

	relay := newRecordingRelay("a1")
	svc := NewService(NewRepository(database), users, relay, zerolog.Nop())

	msg, err := svc.Send(ctx, SendRequest{SenderID: "s1", RecipientID: "a1", Text: "Hi from the database"})
	require.NoError(t, err)
	assert.Len(t, relay.events("a1", EventReceiveMessage), 1)

	history, err := svc.History(ctx, "a1", "a1", "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.Equal(t, msg.CreatedAt, history[0].CreatedAt)

	convs, err := svc.ListConversations(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Asha", convs[0].OtherUser.Name)
	assert.Equal(t, 1, convs[0].UnreadCount)
}
