package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/clock"
	"github.com/JakeFAU/govwatch/internal/monitor"
	"github.com/JakeFAU/govwatch/internal/publisher/memory"
)

type stubIngestor struct {
	stats monitor.IngestStats
	err   error
	runs  []string
}

func (s *stubIngestor) Run(_ context.Context, runID string) (monitor.IngestStats, error) {
	s.runs = append(s.runs, runID)
	return s.stats, s.err
}

type stubRouter struct {
	stats monitor.RouteStats
	err   error
	runs  []string
}

func (s *stubRouter) Run(_ context.Context, runID string) (monitor.RouteStats, error) {
	s.runs = append(s.runs, runID)
	return s.stats, s.err
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type steppingClock struct{ *clock.Manual }

func (c steppingClock) Now() time.Time {
	now := c.Manual.Now()
	c.Advance(time.Minute)
	return now
}

func TestRunIngestsThenRoutes(t *testing.T) {
	t.Parallel()

	ing := &stubIngestor{stats: monitor.IngestStats{Inserted: 4}}
	route := monitor.NewRouteStats()
	route.Inserted[monitor.PartitionUnhandled] = 3
	rt := &stubRouter{stats: route}
	pub := memory.New()
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	task, err := NewTask(ing, rt,
		WithIDGenerator(&seqIDs{}),
		WithClock(steppingClock{clock.NewManual(start)}),
		WithPublisher(pub, "govwatch-runs"),
	)
	require.NoError(t, err)

	_, ok := task.LastSummary()
	require.False(t, ok)

	summary, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, monitor.RunSucceeded, summary.Status)
	require.Equal(t, []string{"run-1"}, ing.runs)
	require.Equal(t, []string{"run-1"}, rt.runs)
	require.Equal(t, 4, summary.Ingest.Inserted)
	require.Equal(t, 3, summary.Route.TotalInserted())
	require.Equal(t, time.Minute, summary.Duration())

	last, ok := task.LastSummary()
	require.True(t, ok)
	require.Equal(t, summary, last)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "govwatch-runs", msgs[0].Topic)
	var decoded monitor.RunSummary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "run-1", decoded.RunID)
}

func TestIngestErrorSkipsRouting(t *testing.T) {
	t.Parallel()

	ing := &stubIngestor{err: errors.New("count raw collection: connection refused")}
	rt := &stubRouter{}
	task, err := NewTask(ing, rt, WithIDGenerator(&seqIDs{}))
	require.NoError(t, err)

	summary, err := task.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, rt.runs)
	require.Equal(t, monitor.RunFailed, summary.Status)
	require.Contains(t, summary.ErrorText, "connection refused")

	last, ok := task.LastSummary()
	require.True(t, ok)
	require.Equal(t, monitor.RunFailed, last.Status)
}

func TestRouteErrorFailsRun(t *testing.T) {
	t.Parallel()

	task, err := NewTask(&stubIngestor{}, &stubRouter{err: errors.New("stream twitter: boom")})
	require.NoError(t, err)

	summary, err := task.Run(context.Background())
	require.ErrorContains(t, err, "classify")
	require.Equal(t, monitor.RunFailed, summary.Status)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("topic deleted"))
	task, err := NewTask(&stubIngestor{}, &stubRouter{stats: monitor.NewRouteStats()}, WithPublisher(pub, "runs"))
	require.NoError(t, err)

	summary, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, monitor.RunSucceeded, summary.Status)
}

func TestSingleStageTasks(t *testing.T) {
	t.Parallel()

	_, err := NewTask(nil, nil)
	require.Error(t, err)

	rt := &stubRouter{stats: monitor.NewRouteStats()}
	task, err := NewTask(nil, rt)
	require.NoError(t, err)
	_, err = task.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rt.runs, 1)

	ing := &stubIngestor{}
	task, err = NewTask(ing, nil)
	require.NoError(t, err)
	_, err = task.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ing.runs, 1)
}
