// Package report builds read-only views over classified records.
package report

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/govwatch/internal/monitor"
)

// DateLayout is the day format used in daily summaries and date filters.
const DateLayout = "2006-01-02"

// TotalLabel marks the trailing aggregate row of a daily summary.
const TotalLabel = "Total"

// RawLabel is the partition label given to unclassified rows.
const RawLabel = "raw"

// Row is the presentation form of one stored record.
type Row struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Text          string    `json:"text"`
	Username      string    `json:"username,omitempty"`
	Category      string    `json:"category"`
	Keyword       string    `json:"keyword"`
	RetweetCount  int64     `json:"retweet_count"`
	FavoriteCount int64     `json:"favorite_count"`
	ReplyCount    int64     `json:"reply_count"`
	QuoteCount    int64     `json:"quote_count"`
	Views         int64     `json:"views"`
	Partition     string    `json:"partition"`
}

// Filter selects rows. Zero values mean "no constraint", except Partitions which
// defaults to unhandled plus mishandled.
type Filter struct {
	Raw        bool
	Partitions []monitor.Partition
	Categories []string
	// From and To are inclusive calendar days in UTC.
	From  time.Time
	To    time.Time
	Limit int
}

// DefaultPartitions are the issue partitions shown when no partition is requested.
func DefaultPartitions() []monitor.Partition {
	return []monitor.Partition{monitor.PartitionUnhandled, monitor.PartitionMishandled}
}

// Load reads the collections selected by f and returns matching rows ordered by
// creation time, oldest first.
func Load(ctx context.Context, store monitor.DocumentStore, f Filter) ([]Row, error) {
	type source struct {
		collection string
		label      string
	}
	var sources []source
	if f.Raw {
		sources = append(sources, source{collection: monitor.CollectionRaw, label: RawLabel})
	} else {
		partitions := f.Partitions
		if len(partitions) == 0 {
			partitions = DefaultPartitions()
		}
		for _, p := range partitions {
			if !p.Valid() {
				return nil, fmt.Errorf("unknown partition %q", p)
			}
			sources = append(sources, source{collection: p.Collection(), label: string(p)})
		}
	}

	rows := make([]Row, 0)
	for _, src := range sources {
		err := store.Stream(ctx, src.collection, func(rec monitor.Record) error {
			if !f.matches(rec) {
				return nil
			}
			rows = append(rows, toRow(rec, src.label))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", src.collection, err)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (f Filter) matches(rec monitor.Record) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, rec.Category) {
		return false
	}
	day := truncateDay(rec.CreatedAt)
	if !f.From.IsZero() && day.Before(truncateDay(f.From)) {
		return false
	}
	if !f.To.IsZero() && day.After(truncateDay(f.To)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toRow(rec monitor.Record, label string) Row {
	return Row{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt,
		Text:          rec.Text,
		Username:      rec.Username,
		Category:      rec.Category,
		Keyword:       rec.Keyword,
		RetweetCount:  rec.RetweetCount,
		FavoriteCount: rec.FavoriteCount,
		ReplyCount:    rec.ReplyCount,
		QuoteCount:    rec.QuoteCount,
		Views:         rec.Views,
		Partition:     label,
	}
}

// Count is one labelled tally.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Distribution tallies rows by partition and by category.
type Distribution struct {
	Total       int     `json:"total"`
	ByPartition []Count `json:"by_partition"`
	ByCategory  []Count `json:"by_category"`
}

// Distribute computes the partition and category distribution of rows. Each
// tally is sorted by count, largest first, then by label.
func Distribute(rows []Row) Distribution {
	byPartition := map[string]int{}
	byCategory := map[string]int{}
	for _, r := range rows {
		byPartition[r.Partition]++
		byCategory[r.Category]++
	}
	return Distribution{
		Total:       len(rows),
		ByPartition: sortedCounts(byPartition),
		ByCategory:  sortedCounts(byCategory),
	}
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for label, n := range m {
		out = append(out, Count{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// DailyRow is one line of the daily summary table.
type DailyRow struct {
	Date                 string `json:"date"`
	Total                int    `json:"total"`
	Unhandled            int    `json:"unhandled"`
	Mishandled           int    `json:"mishandled"`
	NonIssue             int    `json:"non_issue"`
	CategoryDistribution string `json:"category_distribution"`
}

// DailySummary groups rows by creation day (UTC), sorted by date, and appends a
// Total row covering every input row. It returns nil for no rows.
func DailySummary(rows []Row) []DailyRow {
	if len(rows) == 0 {
		return nil
	}
	byDay := map[string][]Row{}
	for _, r := range rows {
		day := r.CreatedAt.UTC().Format(DateLayout)
		byDay[day] = append(byDay[day], r)
	}
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]DailyRow, 0, len(days)+1)
	for _, day := range days {
		out = append(out, summarize(day, byDay[day]))
	}
	return append(out, summarize(TotalLabel, rows))
}

func summarize(label string, rows []Row) DailyRow {
	out := DailyRow{Date: label, Total: len(rows)}
	categories := map[string]int{}
	for _, r := range rows {
		switch monitor.Partition(r.Partition) {
		case monitor.PartitionUnhandled:
			out.Unhandled++
		case monitor.PartitionMishandled:
			out.Mishandled++
		case monitor.PartitionNonIssue:
			out.NonIssue++
		}
		categories[r.Category]++
	}
	parts := make([]string, 0, len(categories))
	for _, c := range sortedCounts(categories) {
		parts = append(parts, fmt.Sprintf("%s: %d", c.Label, c.Count))
	}
	out.CategoryDistribution = strings.Join(parts, ", ")
	return out
}

// ParseDate parses a YYYY-MM-DD filter bound. An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want %s", s, DateLayout)
	}
	return t, nil
}
