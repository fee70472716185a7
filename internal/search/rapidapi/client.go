// Package rapidapi implements the keyword search client for the twitter154 RapidAPI endpoint.
package rapidapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
)

// DefaultURL is the provider's search endpoint.
const DefaultURL = "https://twitter154.p.rapidapi.com/search/search"

// rubyDate is the timestamp layout used in creation_date.
const rubyDate = "Mon Jan 02 15:04:05 -0700 2006"

const maxErrorBody = 512

// Response bodies are capped at a fixed envelope plus a generous allowance per result.
const (
	bodyEnvelopeBytes  = 256 << 10
	bodyPerResultBytes = 64 << 10
)

// Config holds the endpoint, credentials and fixed query filters.
type Config struct {
	URL         string
	Host        string
	APIKey      string
	Section     string
	StartDate   string
	Language    string
	MinRetweets int
	MinLikes    int
	PageSize    int
	Timeout     time.Duration
}

// Client is a stateless SearchClient; every call carries its own cursor.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if cfg.Host == "" {
		cfg.Host = endpoint.Host
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the provider host, used as the rate limiter key.
func (c *Client) Host() string {
	return c.cfg.Host
}

// Search fetches one page of results for keyword. An empty cursor requests page one.
func (c *Client) Search(ctx context.Context, keyword, cursor string) (monitor.Page, error) {
	if strings.TrimSpace(keyword) == "" {
		return monitor.Page{}, monitor.ErrEmptyKeyword
	}
	start := time.Now()
	page, status, err := c.do(ctx, keyword, cursor)
	metrics.ObserveSearchRequest(status, time.Since(start))
	return page, err
}

func (c *Client) do(ctx context.Context, keyword, cursor string) (monitor.Page, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return monitor.Page{}, "error", fmt.Errorf("build search request: %w", err)
	}
	req.URL.RawQuery = c.query(keyword, cursor).Encode()
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("x-rapidapi-host", c.cfg.Host)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return monitor.Page{}, "transport_error", fmt.Errorf("search %q: %w", keyword, err)
	}
	defer resp.Body.Close()

	limit := c.maxBodyBytes()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return monitor.Page{}, "transport_error", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return monitor.Page{}, strconv.Itoa(resp.StatusCode), &monitor.SearchStatusError{
			StatusCode: resp.StatusCode,
			Body:       excerpt(body),
		}
	}
	if int64(len(body)) > limit {
		return monitor.Page{}, "decode_error", fmt.Errorf("decode search response for %q: body exceeds %d bytes", keyword, limit)
	}

	page, err := decodePage(body)
	if err != nil {
		return monitor.Page{}, "decode_error", fmt.Errorf("decode search response for %q: %w", keyword, err)
	}
	if page.Dropped > 0 {
		c.logger.Warn("dropped results without tweet_id",
			zap.String("keyword", keyword),
			zap.Int("dropped", page.Dropped),
		)
	}
	return page, "ok", nil
}

func (c *Client) maxBodyBytes() int64 {
	return bodyEnvelopeBytes + int64(c.cfg.PageSize)*bodyPerResultBytes
}

func (c *Client) query(keyword, cursor string) url.Values {
	q := url.Values{}
	q.Set("query", keyword)
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if c.cfg.Section != "" {
		q.Set("section", c.cfg.Section)
	}
	if c.cfg.StartDate != "" {
		q.Set("start_date", c.cfg.StartDate)
	}
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	if c.cfg.MinRetweets > 0 {
		q.Set("min_retweets", strconv.Itoa(c.cfg.MinRetweets))
	}
	if c.cfg.MinLikes > 0 {
		q.Set("min_likes", strconv.Itoa(c.cfg.MinLikes))
	}
	if cursor != "" {
		q.Set("continuationToken", cursor)
	}
	return q
}

type searchResponse struct {
	Results           []result `json:"results"`
	ContinuationToken string   `json:"continuation_token"`
}

type result struct {
	TweetID       string `json:"tweet_id"`
	CreationDate  string `json:"creation_date"`
	Text          string `json:"text"`
	Language      string `json:"language"`
	FavoriteCount int64  `json:"favorite_count"`
	RetweetCount  int64  `json:"retweet_count"`
	ReplyCount    int64  `json:"reply_count"`
	QuoteCount    int64  `json:"quote_count"`
	Views         int64  `json:"views"`
	User          struct {
		Username string `json:"username"`
	} `json:"user"`
}

func decodePage(body []byte) (monitor.Page, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return monitor.Page{}, err
	}
	page := monitor.Page{
		Records:    make([]monitor.Record, 0, len(resp.Results)),
		NextCursor: resp.ContinuationToken,
		Raw:        body,
	}
	for _, r := range resp.Results {
		if strings.TrimSpace(r.TweetID) == "" {
			page.Dropped++
			continue
		}
		rec := monitor.Record{
			ID:            r.TweetID,
			Text:          r.Text,
			Language:      r.Language,
			Username:      r.User.Username,
			RetweetCount:  r.RetweetCount,
			FavoriteCount: r.FavoriteCount,
			ReplyCount:    r.ReplyCount,
			QuoteCount:    r.QuoteCount,
			Views:         r.Views,
		}
		if ts, err := parseCreated(r.CreationDate); err == nil {
			rec.CreatedAt = ts
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func parseCreated(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty creation_date")
	}
	if ts, err := time.Parse(rubyDate, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse creation_date %q: %w", s, err)
	}
	return ts.UTC(), nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
