// Package monitor defines core types shared across the ingestion and classification subsystems.
package monitor

import (
	"fmt"
	"time"
)

// Collection names used in the document store.
const (
	CollectionRaw        = "twitter"
	CollectionUnhandled  = "unhandled_issues"
	CollectionMishandled = "mishandled_issues"
	CollectionNonIssue   = "non_issues"
)

// Partition is one of the three terminal classification buckets.
type Partition string

// Supported partitions.
const (
	PartitionUnhandled  Partition = "unhandled"
	PartitionMishandled Partition = "mishandled"
	PartitionNonIssue   Partition = "non_issue"
)

// Partitions lists every partition in classifier answer order (1, 2, 3).
func Partitions() []Partition {
	return []Partition{PartitionUnhandled, PartitionMishandled, PartitionNonIssue}
}

// Collection returns the document store collection backing the partition.
func (p Partition) Collection() string {
	switch p {
	case PartitionUnhandled:
		return CollectionUnhandled
	case PartitionMishandled:
		return CollectionMishandled
	case PartitionNonIssue:
		return CollectionNonIssue
	default:
		return ""
	}
}

// Valid reports whether p is one of the three known partitions.
func (p Partition) Valid() bool {
	return p.Collection() != ""
}

// ParsePartition maps a label such as "mishandled" to a Partition.
func ParsePartition(label string) (Partition, error) {
	p := Partition(label)
	if !p.Valid() {
		return "", fmt.Errorf("unknown partition %q", label)
	}
	return p, nil
}

// PartitionForCollection is the inverse of Partition.Collection.
func PartitionForCollection(collection string) (Partition, bool) {
	for _, p := range Partitions() {
		if p.Collection() == collection {
			return p, true
		}
	}
	return "", false
}

// Record is a single ingested post. Category and Keyword are stamped at ingestion
// time from the taxonomy; Partition and ClassifiedAt are only set on partition rows.
type Record struct {
	ID            string     `json:"tweet_id"`
	Text          string     `json:"text"`
	CreatedAt     time.Time  `json:"creation_date"`
	Language      string     `json:"language,omitempty"`
	Username      string     `json:"username,omitempty"`
	RetweetCount  int64      `json:"retweet_count"`
	FavoriteCount int64      `json:"favorite_count"`
	ReplyCount    int64      `json:"reply_count"`
	QuoteCount    int64      `json:"quote_count"`
	Views         int64      `json:"views"`
	Category      string     `json:"category"`
	Keyword       string     `json:"keyword"`
	FetchedAt     time.Time  `json:"fetched_at"`
	Partition     Partition  `json:"partition,omitempty"`
	ClassifiedAt  *time.Time `json:"classified_at,omitempty"`
}

// Page is one response from the search provider.
type Page struct {
	Records []Record
	// NextCursor is empty once the keyword's results are exhausted.
	NextCursor string
	// Dropped counts provider results that carried no identifier.
	Dropped int
	// Raw holds the undecoded response body for archiving.
	Raw []byte
}

// StopReason explains why pagination for a keyword ended.
type StopReason string

// Stop reasons reported per keyword.
const (
	StopExhausted   StopReason = "exhausted"
	StopNoNovel     StopReason = "no_novel"
	StopCeiling     StopReason = "ceiling"
	StopSearchError StopReason = "search_error"
	StopCanceled    StopReason = "canceled"
)

// KeywordResult summarizes one (category, keyword) pagination session.
type KeywordResult struct {
	Category string     `json:"category"`
	Keyword  string     `json:"keyword"`
	Pages    int        `json:"pages"`
	Fetched  int        `json:"fetched"`
	Inserted int        `json:"inserted"`
	Dropped  int        `json:"dropped,omitempty"`
	Stop     StopReason `json:"stop"`
	Error    string     `json:"error,omitempty"`
}

// IngestStats are the run-scoped counters of one taxonomy sweep.
type IngestStats struct {
	Keywords       int             `json:"keywords"`
	Pages          int             `json:"pages"`
	Fetched        int             `json:"fetched"`
	Inserted       int             `json:"inserted"`
	Duplicates     int             `json:"duplicates"`
	Dropped        int             `json:"dropped"`
	SearchErrors   int             `json:"search_errors"`
	CeilingReached bool            `json:"ceiling_reached"`
	Results        []KeywordResult `json:"results,omitempty"`
}

// OutcomeStatus is the per-item result of routing a record.
type OutcomeStatus string

// Routing outcomes.
const (
	OutcomeClassified       OutcomeStatus = "classified"
	OutcomeSkippedDuplicate OutcomeStatus = "skipped_duplicate"
	OutcomeSkippedEmpty     OutcomeStatus = "skipped_empty"
	OutcomeInvalid          OutcomeStatus = "invalid"
	OutcomeFailed           OutcomeStatus = "failed"
)

// ItemOutcome carries either the partition a record landed in or the reason it did not.
type ItemOutcome struct {
	ID        string        `json:"id"`
	Status    OutcomeStatus `json:"status"`
	Partition Partition     `json:"partition,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// RouteStats are the run-scoped counters of one classification pass.
type RouteStats struct {
	Seen             int               `json:"seen"`
	Inserted         map[Partition]int `json:"inserted"`
	Errors           int               `json:"errors"`
	SkippedDuplicate int               `json:"skipped_duplicate"`
	SkippedEmpty     int               `json:"skipped_empty"`
	Invalid          int               `json:"invalid"`
}

// NewRouteStats returns RouteStats with every partition counter present.
func NewRouteStats() RouteStats {
	inserted := make(map[Partition]int, 3)
	for _, p := range Partitions() {
		inserted[p] = 0
	}
	return RouteStats{Inserted: inserted}
}

// TotalInserted sums the per-partition insert counters.
func (s RouteStats) TotalInserted() int {
	total := 0
	for _, n := range s.Inserted {
		total += n
	}
	return total
}

// RunStatus is the terminal state of a scheduled run.
type RunStatus string

// Run status values.
const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunSummary is emitted at the end of every run.
type RunSummary struct {
	RunID      string      `json:"run_id"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Ingest     IngestStats `json:"ingest"`
	Route      RouteStats  `json:"route"`
	ErrorText  string      `json:"error_text,omitempty"`
}

// Duration returns how long the run took.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
