package toolexecutor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	tools     []ToolSpec
	err       error
	discovers atomic.Int32
	gate      chan struct{}
	invoked   []string
	lastArgs  map[string]any
}

func (b *fakeBackend) Discover(ctx context.Context) ([]ToolSpec, error) {
	b.discovers.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.tools, nil
}

func (b *fakeBackend) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoked = append(b.invoked, name)
	b.lastArgs = args
	return "result of " + name, nil
}

func (b *fakeBackend) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var splunkTool = ToolSpec{
	Name:        "search_splunk",
	Description: "Run a Splunk search",
	Parameters: ParameterSchema{
		Properties: map[string]any{"search_query": map[string]any{"type": "string", "description": "SPL"}},
		Required:   []string{"search_query"},
	},
}

func newTestRegistry(backend Backend) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(backend, RegistryConfig{TTL: 300 * time.Second, Now: clock.Now}, zerolog.Nop()), clock
}

func TestRegistryListTools(t *testing.T) {
	t.Run("should reuse the catalog while fresh and refresh after TTL", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}}
		registry, clock := newTestRegistry(backend)

		first := registry.ListTools(context.Background())
		clock.Advance(299 * time.Second)
		second := registry.ListTools(context.Background())

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), backend.discovers.Load())

		clock.Advance(2 * time.Second)
		registry.ListTools(context.Background())
		assert.Equal(t, int32(2), backend.discovers.Load())
	})

	t.Run("should serve the stale catalog when discovery fails", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}}
		registry, clock := newTestRegistry(backend)

		registry.ListTools(context.Background())
		_, fetchedAt := registry.Cached()

		backend.fail(errors.New("connection refused"))
		clock.Advance(time.Hour)
		tools := registry.ListTools(context.Background())

		require.Len(t, tools, 1)
		assert.Equal(t, "search_splunk", tools[0].Name)
		_, after := registry.Cached()
		assert.Equal(t, fetchedAt, after, "failed discovery must not touch the cache timestamp")
	})

	t.Run("should return an empty list when discovery fails with no catalog", func(t *testing.T) {
		backend := &fakeBackend{err: errors.New("connection refused")}
		registry, _ := newTestRegistry(backend)

		tools := registry.ListTools(context.Background())

		assert.NotNil(t, tools)
		assert.Empty(t, tools)
		_, fetchedAt := registry.Cached()
		assert.True(t, fetchedAt.IsZero())

		registry.ListTools(context.Background())
		assert.Equal(t, int32(2), backend.discovers.Load(), "nothing cached, so every call retries")
	})

	t.Run("should collapse concurrent misses into one discovery", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}, gate: make(chan struct{})}
		registry, _ := newTestRegistry(backend)

		var wg sync.WaitGroup
		results := make([][]ToolSpec, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = registry.ListTools(context.Background())
			}(i)
		}

		require.Eventually(t, func() bool { return backend.discovers.Load() >= 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(backend.gate)
		wg.Wait()

		assert.Equal(t, int32(1), backend.discovers.Load())
		for _, r := range results {
			assert.Len(t, r, 1)
		}
	})

	t.Run("should finish a shared discovery after its first caller leaves", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}, gate: make(chan struct{})}
		registry, _ := newTestRegistry(backend)

		ctx, cancel := context.WithCancel(context.Background())
		first := make(chan []ToolSpec, 1)
		go func() { first <- registry.ListTools(ctx) }()
		require.Eventually(t, func() bool { return backend.discovers.Load() == 1 }, time.Second, 5*time.Millisecond)

		second := make(chan []ToolSpec, 1)
		go func() { second <- registry.ListTools(context.Background()) }()
		time.Sleep(20 * time.Millisecond)

		cancel()
		close(backend.gate)

		assert.Len(t, <-first, 1)
		assert.Len(t, <-second, 1)
		assert.Equal(t, int32(1), backend.discovers.Load())

		tools, fetchedAt := registry.Cached()
		assert.Len(t, tools, 1)
		assert.False(t, fetchedAt.IsZero())
	})
}

func TestRegistryInvoke(t *testing.T) {
	t.Run("should reject calls missing required arguments", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}}
		registry, _ := newTestRegistry(backend)
		registry.ListTools(context.Background())

		_, err := registry.Invoke(context.Background(), "search_splunk", map[string]any{"query": "x"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid arguments for search_splunk")
		assert.Empty(t, backend.invoked)
	})

	t.Run("should forward valid calls", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}}
		registry, _ := newTestRegistry(backend)
		registry.ListTools(context.Background())

		text, err := registry.Invoke(context.Background(), "search_splunk", map[string]any{"search_query": "search index=main"})

		require.NoError(t, err)
		assert.Equal(t, "result of search_splunk", text)
		assert.Equal(t, "search index=main", backend.lastArgs["search_query"])
	})

	t.Run("should forward unknown tools to the service", func(t *testing.T) {
		backend := &fakeBackend{tools: []ToolSpec{splunkTool}}
		registry, _ := newTestRegistry(backend)
		registry.ListTools(context.Background())

		_, err := registry.Invoke(context.Background(), "get_indexes", nil)

		require.NoError(t, err)
		assert.Equal(t, []string{"get_indexes"}, backend.invoked)
	})
}

func TestToModelSchema(t *testing.T) {
	t.Run("should map tools one to one", func(t *testing.T) {
		bare := ToolSpec{Name: "get_indexes", Description: "List indexes"}

		schema := ToModelSchema([]ToolSpec{splunkTool, bare})

		require.Len(t, schema, 2)
		assert.Equal(t, "search_splunk", schema[0].Name)
		assert.Equal(t, "object", schema[0].Parameters.Type)
		assert.Equal(t, []string{"search_query"}, schema[0].Parameters.Required)
		assert.Contains(t, schema[0].Parameters.Properties, "search_query")

		assert.Equal(t, "get_indexes", schema[1].Name)
		assert.NotNil(t, schema[1].Parameters.Properties)
		assert.NotNil(t, schema[1].Parameters.Required)
	})

	t.Run("should return empty schema for empty registry", func(t *testing.T) {
		assert.Empty(t, ToModelSchema(nil))
	})
}
