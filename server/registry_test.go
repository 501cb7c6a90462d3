package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	joined []string
	left   []string
	err    error
}

func (o *recordingObserver) PlayerJoined(_ context.Context, username string, address string) error {
	o.joined = append(o.joined, username+"@"+address)
	return o.err
}

func (o *recordingObserver) PlayerLeft(_ context.Context, username string) error {
	o.left = append(o.left, username)
	return o.err
}

func TestPlayerRegistry_Observers(t *testing.T) {
	registry := NewPlayerRegistry()
	observer := &recordingObserver{}
	registry.AddObserver(observer)

	ctx := context.Background()
	registry.Put(ctx, "Steve", "10.0.0.1:1000")
	registry.Put(ctx, "Steve", "10.0.0.2:2000")

	assert.False(t, registry.Remove(ctx, "Steve", "10.0.0.1:1000"), "older connection must not evict the newer one")
	address, found := registry.Lookup("Steve")
	assert.True(t, found)
	assert.Equal(t, "10.0.0.2:2000", address)

	assert.True(t, registry.Remove(ctx, "Steve", "10.0.0.2:2000"))
	assert.False(t, registry.Remove(ctx, "Steve", "10.0.0.2:2000"))

	assert.Equal(t, []string{"Steve@10.0.0.1:1000", "Steve@10.0.0.2:2000"}, observer.joined)
	assert.Equal(t, []string{"Steve"}, observer.left)
	assert.Empty(t, registry.Snapshot())
}

func TestPlayerRegistry_ObserverErrorsAreContained(t *testing.T) {
	registry := NewPlayerRegistry()
	registry.AddObserver(&recordingObserver{err: assert.AnError})

	ctx := context.Background()
	registry.Put(ctx, "Alex", "10.0.0.3:3000")
	assert.Equal(t, map[string]string{"Alex": "10.0.0.3:3000"}, registry.Snapshot())
	assert.True(t, registry.Remove(ctx, "Alex", "10.0.0.3:3000"))
}

func TestConnectionRegistry(t *testing.T) {
	registry := NewConnectionRegistry()
	cancelled := false
	registry.Add("10.0.0.1:1000", nil, func() { cancelled = true }, "first")
	registry.Update("10.0.0.1:1000", "Steve", PhaseDeciding)
	registry.Update("10.0.0.9:9999", "Nobody", PhaseRelaying)

	list := registry.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Steve", list[0].Player)
	assert.Equal(t, "deciding", list[0].Phase)

	assert.False(t, registry.Remove("10.0.0.1:1000", "second"))
	assert.True(t, registry.Contains("10.0.0.1:1000"))

	assert.True(t, registry.Close("10.0.0.1:1000"))
	assert.True(t, cancelled)
	assert.False(t, registry.Close("10.0.0.9:9999"))

	assert.True(t, registry.Remove("10.0.0.1:1000", "first"))
	assert.False(t, registry.Remove("10.0.0.1:1000", "first"))
	assert.Equal(t, 0, registry.Len())
}
