package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/monitor"
)

func TestDocStoreInsertIfAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocStore()

	inserted, err := store.InsertIfAbsent(ctx, monitor.CollectionRaw, monitor.Record{ID: "A", Text: "first"})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertIfAbsent(ctx, monitor.CollectionRaw, monitor.Record{ID: "A", Text: "second"})
	require.NoError(t, err)
	require.False(t, inserted)

	rec, ok := store.Get(monitor.CollectionRaw, "A")
	require.True(t, ok)
	require.Equal(t, "first", rec.Text)

	// Same ID in another collection is independent.
	inserted, err = store.InsertIfAbsent(ctx, monitor.CollectionNonIssue, monitor.Record{ID: "A"})
	require.NoError(t, err)
	require.True(t, inserted)

	_, err = store.InsertIfAbsent(ctx, monitor.CollectionRaw, monitor.Record{})
	require.Error(t, err)
}

func TestDocStoreConcurrentInsertsAreAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocStore()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.InsertIfAbsent(ctx, monitor.CollectionRaw, monitor.Record{ID: "race"})
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	n, err := store.Count(ctx, monitor.CollectionRaw)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDocStoreStreamAndDistinctIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocStore()
	for _, id := range []string{"c", "a", "b"} {
		_, err := store.InsertIfAbsent(ctx, monitor.CollectionRaw, monitor.Record{ID: id})
		require.NoError(t, err)
	}

	ids, err := store.DistinctIDs(ctx, monitor.CollectionRaw)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, ids)

	empty, err := store.DistinctIDs(ctx, monitor.CollectionUnhandled)
	require.NoError(t, err)
	require.Empty(t, empty)

	var seen []string
	require.NoError(t, store.Stream(ctx, monitor.CollectionRaw, func(rec monitor.Record) error {
		seen = append(seen, rec.ID)
		return nil
	}))
	require.Equal(t, []string{"c", "a", "b"}, seen)

	stop := errors.New("stop")
	err = store.Stream(ctx, monitor.CollectionRaw, func(monitor.Record) error { return stop })
	require.ErrorIs(t, err, stop)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, store.Stream(canceled, monitor.CollectionRaw, func(monitor.Record) error { return nil }))
}

func TestDocStoreClosed(t *testing.T) {
	t.Parallel()

	store := NewDocStore()
	require.NoError(t, store.Close())
	_, err := store.InsertIfAbsent(context.Background(), monitor.CollectionRaw, monitor.Record{ID: "A"})
	require.Error(t, err)
	_, err = store.Count(context.Background(), monitor.CollectionRaw)
	require.Error(t, err)
}
