package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	e := NewEvent("plugin_loaded", "demo", map[string]any{"version": "1.0.0"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "plugin_loaded", e.Type)
	assert.Equal(t, "demo", e.Plugin)
	assert.Equal(t, "plugin_manager", e.Source)
	assert.Equal(t, "1.0.0", e.Payload["version"])
	assert.False(t, e.Time.IsZero())
}

func TestQueueDrainOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil, 8)
	var seen []string
	q.Subscribe("plugin_loaded", func(e Event) {
		seen = append(seen, e.Plugin)
	})

	q.Emit(NewEvent("plugin_loaded", "alpha", nil))
	q.Emit(NewEvent("plugin_loaded", "beta", nil))

	first := <-q.Wait()
	q.Drain(first)

	assert.Equal(t, []string{"alpha", "beta"}, seen)
}

func TestQueueDispatchByType(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil, 8)
	var loaded, unloaded int
	q.Subscribe("plugin_loaded", func(Event) { loaded++ })
	q.Subscribe("plugin_unloaded", func(Event) { unloaded++ })

	q.Emit(NewEvent("plugin_loaded", "demo", nil))
	q.Emit(NewEvent("plugin_unloaded", "demo", nil))

	q.Drain(<-q.Wait())

	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, unloaded)
}

func TestQueueEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil, 1)
	q.Emit(NewEvent("plugin_loaded", "kept", nil))
	// Buffer is full; this enqueue must return instead of stalling.
	q.Emit(NewEvent("plugin_loaded", "dropped", nil))

	var seen []string
	q.Subscribe("plugin_loaded", func(e Event) { seen = append(seen, e.Plugin) })
	q.Drain(<-q.Wait())

	assert.Equal(t, []string{"kept"}, seen)
}

func TestQueueHandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil, 8)
	var after bool
	q.Subscribe("plugin_loaded", func(Event) { panic("bad handler") })
	q.Subscribe("plugin_loaded", func(Event) { after = true })

	q.Emit(NewEvent("plugin_loaded", "demo", nil))
	require.NotPanics(t, func() { q.Drain(<-q.Wait()) })
	assert.True(t, after)
}
