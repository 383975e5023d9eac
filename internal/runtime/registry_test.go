package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UpsertCreatesAndUpdates(t *testing.T) {
	registry := NewRegistry()

	entry := registry.Upsert("int-1", "sess-1", func(e *Interaction) {
		e.AgentState = "running"
	})
	assert.Equal(t, "int-1", entry.InteractionID)
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, "running", entry.AgentState)
	assert.False(t, entry.UpdatedAt.IsZero())

	entry = registry.Upsert("int-1", "sess-1", func(e *Interaction) {
		e.LastNotification = "awaiting approval"
	})
	assert.Equal(t, "running", entry.AgentState)
	assert.Equal(t, "awaiting approval", entry.LastNotification)

	loaded, ok := registry.Get("int-1")
	require.True(t, ok)
	assert.Equal(t, entry.LastNotification, loaded.LastNotification)
}

func TestRegistry_Delete(t *testing.T) {
	registry := NewRegistry()
	registry.Upsert("int-1", "sess-1", nil)

	registry.Delete("int-1")
	_, ok := registry.Get("int-1")
	assert.False(t, ok)
}

func TestRegistry_DeleteSession_ClearsOnlyThatSession(t *testing.T) {
	registry := NewRegistry()
	registry.Upsert("int-1", "sess-1", nil)
	registry.Upsert("int-2", "sess-1", nil)
	registry.Upsert("int-3", "sess-2", nil)

	registry.DeleteSession("sess-1")

	_, ok := registry.Get("int-1")
	assert.False(t, ok)
	_, ok = registry.Get("int-2")
	assert.False(t, ok)
	_, ok = registry.Get("int-3")
	assert.True(t, ok)

	assert.Len(t, registry.List(), 1)
}
