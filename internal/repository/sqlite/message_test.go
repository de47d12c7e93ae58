package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chat-relay/internal/model"
)

func TestInsertMessage_AssignsIDAndTimestamp(t *testing.T) {
	db := newTestDB(t)

	msg := &model.Message{Sender: "alice@example.com", Receiver: "bob@example.com", Body: "hi"}
	require.NoError(t, db.InsertMessage(context.Background(), msg))

	assert.NotEmpty(t, msg.ID, "InsertMessage should assign an ID")
	assert.False(t, msg.Timestamp.IsZero(), "InsertMessage should assign a timestamp")
}

func TestInsertMessage_KeepsPresetFields(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clientTS := ts.Add(-3 * time.Second)

	msg := &model.Message{
		ID:              "preset-id",
		Sender:          "alice@example.com",
		Receiver:        "bob@example.com",
		Body:            "hello",
		Timestamp:       ts,
		ClientTimestamp: clientTS,
	}
	require.NoError(t, db.InsertMessage(ctx, msg))

	msgs, err := db.ListConversation(ctx, "alice@example.com", "bob@example.com")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "preset-id", msgs[0].ID)
	assert.True(t, ts.Equal(msgs[0].Timestamp))
	assert.True(t, clientTS.Equal(msgs[0].ClientTimestamp))
}

func TestInsertMessage_DuplicateIDFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.Message{ID: "dup", Sender: "a@example.com", Receiver: "b@example.com", Body: "1"}
	require.NoError(t, db.InsertMessage(ctx, first))

	second := &model.Message{ID: "dup", Sender: "a@example.com", Receiver: "b@example.com", Body: "2"}
	assert.Error(t, db.InsertMessage(ctx, second))
}

func TestListConversation_BothDirectionsInOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a, b := "alice@example.com", "bob@example.com"

	// Alternate direction; some share the same millisecond, which seq resolves.
	send := []struct{ from, to, body string }{
		{a, b, "one"},
		{b, a, "two"},
		{a, b, "three"},
	}
	for _, s := range send {
		require.NoError(t, db.InsertMessage(ctx, &model.Message{Sender: s.from, Receiver: s.to, Body: s.body}))
	}

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		msgs, err := db.ListConversation(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.Len(t, msgs, 3)

		assert.Equal(t, "one", msgs[0].Body)
		assert.Equal(t, "two", msgs[1].Body)
		assert.Equal(t, "three", msgs[2].Body)
		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp),
				"timestamps must be non-decreasing")
		}
	}
}

func TestListConversation_ExcludesOtherPairs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertMessage(ctx, &model.Message{Sender: "a@example.com", Receiver: "b@example.com", Body: "ab"}))
	require.NoError(t, db.InsertMessage(ctx, &model.Message{Sender: "a@example.com", Receiver: "c@example.com", Body: "ac"}))
	require.NoError(t, db.InsertMessage(ctx, &model.Message{Sender: "c@example.com", Receiver: "b@example.com", Body: "cb"}))

	msgs, err := db.ListConversation(ctx, "b@example.com", "a@example.com")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ab", msgs[0].Body)
}

func TestListConversation_OrdersByTimestampNotInsertion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertMessage(ctx, &model.Message{
		Sender: "a@example.com", Receiver: "b@example.com", Body: "later", Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, db.InsertMessage(ctx, &model.Message{
		Sender: "b@example.com", Receiver: "a@example.com", Body: "earlier", Timestamp: base,
	}))

	msgs, err := db.ListConversation(ctx, "a@example.com", "b@example.com")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier", msgs[0].Body)
	assert.Equal(t, "later", msgs[1].Body)
}

func TestListConversation_Empty(t *testing.T) {
	db := newTestDB(t)

	msgs, err := db.ListConversation(context.Background(), "a@example.com", "b@example.com")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
