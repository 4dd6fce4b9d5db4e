package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hugofs/tasktalk/internal/api"
)

func TestSaveAndList(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "history.db"))
	defer c.Close()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Save(api.ChatMessage{ID: "m1", ConversationID: "c1", Role: api.RoleUser, Content: "hi", CreatedAt: base})
	c.Save(api.ChatMessage{ID: "m2", ConversationID: "c1", Role: api.RoleAssistant, Content: "hello", CreatedAt: base.Add(time.Second)})
	c.Save(api.ChatMessage{ID: "m3", ConversationID: "c2", Role: api.RoleUser, Content: "other", CreatedAt: base.Add(2 * time.Second)})

	msgs := c.List("c1")
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, api.RoleUser, msgs[0].Role)
	require.Equal(t, "m2", msgs[1].ID)

	require.Empty(t, c.List("missing"))
}

func TestSaveIsIdempotentPerMessageID(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "history.db"))
	defer c.Close()

	msg := api.ChatMessage{ID: "m1", ConversationID: "c1", Role: api.RoleUser, Content: "hi", CreatedAt: time.Now().UTC()}
	c.Save(msg)
	c.Save(msg)

	require.Len(t, c.List("c1"), 1)
}

func TestLastConversationID(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "history.db"))
	defer c.Close()

	require.Empty(t, c.LastConversationID())

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Save(api.ChatMessage{ID: "m1", ConversationID: "c1", Role: api.RoleUser, Content: "hi", CreatedAt: base})
	c.Save(api.ChatMessage{ID: "m2", ConversationID: "c2", Role: api.RoleUser, Content: "later", CreatedAt: base.Add(time.Hour)})

	require.Equal(t, "c2", c.LastConversationID())
}

func TestCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	c := NewCache(path)
	c.Save(api.ChatMessage{ID: "m1", ConversationID: "c1", Role: api.RoleUser, Content: "hi", CreatedAt: time.Now().UTC()})
	require.NoError(t, c.Close())

	c2 := NewCache(path)
	defer c2.Close()
	require.Len(t, c2.List("c1"), 1)
}
