package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKey(t *testing.T) {
	a := Key("run-1", "publish", "")
	assert.Equal(t, a, Key("run-1", "publish", ""), "stable across calls")
	assert.NotEqual(t, a, Key("run-2", "publish", ""))
	assert.NotEqual(t, a, Key("run-1", "pricing", ""))

	bySKU := Key("run-1", "publish", "SKU-1")
	assert.Equal(t, bySKU, Key("run-9", "publish", "SKU-1"), "a sku anchors the key across runs")
	assert.NotEqual(t, a, bySKU)
}

// storeContract exercises behavior every Store implementation must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	key := Key(fmt.Sprintf("run-%d", time.Now().UnixNano()), "publish", "")

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put keeps the first record", func(t *testing.T) {
		first, err := store.Put(ctx, Record{Key: key, RunID: "run-1", StageID: "publish", Data: map[string]any{"product_id": "P-1"}})
		require.NoError(t, err)
		assert.Equal(t, "P-1", first.Data["product_id"])

		second, err := store.Put(ctx, Record{Key: key, RunID: "run-1", StageID: "publish", Data: map[string]any{"product_id": "P-2"}})
		require.NoError(t, err)
		assert.Equal(t, "P-1", second.Data["product_id"])

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "P-1", got.Data["product_id"])
		assert.Equal(t, "run-1", got.RunID)
		assert.False(t, got.RecordedAt.IsZero())
	})

	t.Run("lock is exclusive", func(t *testing.T) {
		unlock, err := store.Lock(ctx, key, time.Minute)
		require.NoError(t, err)

		_, err = store.Lock(ctx, key, time.Minute)
		assert.ErrorIs(t, err, ErrLocked)

		require.NoError(t, unlock(ctx))

		again, err := store.Lock(ctx, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, again(ctx))
	})

	t.Run("concurrent lockers", func(t *testing.T) {
		var (
			wg       sync.WaitGroup
			acquired atomic.Int32
			start    = make(chan struct{})
		)

		unlocks := make(chan Unlock, 8)

		for range 8 {
			wg.Add(1)

			go func() {
				defer wg.Done()
				<-start

				if unlock, err := store.Lock(ctx, key+"-race", time.Minute); err == nil {
					acquired.Add(1)
					unlocks <- unlock
				}
			}()
		}

		close(start)
		wg.Wait()
		close(unlocks)

		assert.Equal(t, int32(1), acquired.Load())

		for unlock := range unlocks {
			require.NoError(t, unlock(ctx))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_LockExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	stale, err := store.Lock(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	fresh, err := store.Lock(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	// The expired holder must not release the new lease.
	require.NoError(t, stale(context.Background()))

	_, err = store.Lock(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, fresh(context.Background()))
}

func TestMemoryStore_RecordsAreCopied(t *testing.T) {
	store := NewMemoryStore()
	data := map[string]any{"product_id": "P-1"}

	_, err := store.Put(context.Background(), Record{Key: "k", Data: data})
	require.NoError(t, err)

	data["product_id"] = "mutated"

	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "P-1", got.Data["product_id"])
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewRedisStore(ctx, logger, "redis://"+endpoint+"/0")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	storeContract(t, store)

	t.Run("lock lease expires", func(t *testing.T) {
		_, err := store.Lock(ctx, "short", 100*time.Millisecond)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			unlock, err := store.Lock(ctx, "short", time.Minute)
			if err != nil {
				return false
			}

			return unlock(ctx) == nil
		}, 5*time.Second, 50*time.Millisecond)
	})
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := NewRedisStore(context.Background(), logger, "not-a-url")
	assert.Error(t, err)
}
