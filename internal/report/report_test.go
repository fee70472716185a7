package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/monitor"
	"github.com/JakeFAU/govwatch/internal/storage/memory"
)

func day(d, hour int) time.Time {
	return time.Date(2025, time.May, d, hour, 0, 0, 0, time.UTC)
}

func seed(t *testing.T) *memory.DocStore {
	t.Helper()
	store := memory.NewDocStore()
	ctx := context.Background()
	put := func(p monitor.Partition, id, category string, created time.Time) {
		_, err := store.InsertIfAbsent(ctx, p.Collection(), monitor.Record{
			ID: id, Text: "text " + id, Category: category, CreatedAt: created, Partition: p,
		})
		require.NoError(t, err)
	}
	put(monitor.PartitionUnhandled, "1", "privacy", day(2, 9))
	put(monitor.PartitionUnhandled, "2", "privacy", day(1, 9))
	put(monitor.PartitionMishandled, "3", "moderation", day(1, 12))
	put(monitor.PartitionNonIssue, "4", "privacy", day(1, 8))
	_, err := store.InsertIfAbsent(ctx, monitor.CollectionRaw, monitor.Record{ID: "9", Category: "privacy", CreatedAt: day(3, 0)})
	require.NoError(t, err)
	return store
}

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestLoadDefaultsToIssuePartitions(t *testing.T) {
	t.Parallel()

	rows, err := Load(context.Background(), seed(t), Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "3", "1"}, ids(rows))
	require.Equal(t, "mishandled", rows[1].Partition)
}

func TestLoadFilters(t *testing.T) {
	t.Parallel()
	store := seed(t)
	ctx := context.Background()

	rows, err := Load(ctx, store, Filter{Partitions: monitor.Partitions(), Categories: []string{"privacy"}})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "2", "1"}, ids(rows))

	rows, err = Load(ctx, store, Filter{From: day(2, 0), To: day(2, 0)})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids(rows))

	rows, err = Load(ctx, store, Filter{To: day(1, 0), Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, ids(rows))

	rows, err = Load(ctx, store, Filter{Raw: true})
	require.NoError(t, err)
	require.Equal(t, []string{"9"}, ids(rows))
	require.Equal(t, RawLabel, rows[0].Partition)

	_, err = Load(ctx, store, Filter{Partitions: []monitor.Partition{"resolved"}})
	require.Error(t, err)
}

func TestLoadEmptyStoreReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	rows, err := Load(context.Background(), memory.NewDocStore(), Filter{})
	require.NoError(t, err)
	require.NotNil(t, rows)
	require.Empty(t, rows)
}

func TestDistribute(t *testing.T) {
	t.Parallel()

	rows, err := Load(context.Background(), seed(t), Filter{Partitions: monitor.Partitions()})
	require.NoError(t, err)

	dist := Distribute(rows)
	require.Equal(t, 4, dist.Total)
	require.Equal(t, []Count{{"privacy", 3}, {"moderation", 1}}, dist.ByCategory)
	require.Equal(t, []Count{{"unhandled", 2}, {"mishandled", 1}, {"non_issue", 1}}, dist.ByPartition)
}

func TestDailySummary(t *testing.T) {
	t.Parallel()

	rows, err := Load(context.Background(), seed(t), Filter{Partitions: monitor.Partitions()})
	require.NoError(t, err)

	summary := DailySummary(rows)
	require.Equal(t, []DailyRow{
		{Date: "2025-05-01", Total: 3, Unhandled: 1, Mishandled: 1, NonIssue: 1, CategoryDistribution: "privacy: 2, moderation: 1"},
		{Date: "2025-05-02", Total: 1, Unhandled: 1, CategoryDistribution: "privacy: 1"},
		{Date: TotalLabel, Total: 4, Unhandled: 2, Mishandled: 1, NonIssue: 1, CategoryDistribution: "privacy: 3, moderation: 1"},
	}, summary)

	require.Nil(t, DailySummary(nil))
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	got, err := ParseDate("2025-05-03")
	require.NoError(t, err)
	require.Equal(t, day(3, 0), got)

	got, err = ParseDate("")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = ParseDate("05/03/2025")
	require.Error(t, err)
}
