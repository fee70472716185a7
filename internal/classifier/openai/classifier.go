// Package openai implements the three-way governance classifier on an OpenAI-compatible chat API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/monitor"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = float32(0.2)
	DefaultPlatform    = "TikTok"
)

const promptTemplate = "As a %[1]s Governance PM, analyze this user comment and classify it:\n\n" +
	"1 = Ecosystem Issue: User reports problems like impersonation, scams, or harmful content that %[1]s hasn't addressed. " +
	"Examples: fake accounts, stolen content, impersonation, scams, harmful challenges, etc.\n\n" +
	"2 = Mishandled Issue: %[1]s's action made things worse. " +
	"Examples: wrong account bans, unfair content removal, or when reporting made the problem worse.\n\n" +
	"3 = Non-Issue: User is just sharing content, promoting something, or making general comments without reporting any problems.\n\n" +
	"Comment:\n%[2]s\n\n" +
	"You must respond with either 1, 2, or 3. No other responses are allowed. " +
	"Do NOT include any explanation, punctuation, or other text."

// Config holds the classification provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	Platform    string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Classifier asks a chat model to place a comment in exactly one partition.
type Classifier struct {
	client      *openai.Client
	model       string
	temperature float32
	platform    string
	logger      *zap.Logger
}

// New creates a Classifier. It performs no network calls.
func New(cfg Config) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Classifier{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: DefaultTemperature,
		platform:    cfg.Platform,
		logger:      cfg.Logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if cfg.Temperature != nil {
		c.temperature = *cfg.Temperature
	}
	if c.platform == "" {
		c.platform = DefaultPlatform
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Prompt renders the instruction sent for text.
func (c *Classifier) Prompt(text string) string {
	return fmt.Sprintf(promptTemplate, c.platform, text)
}

// Classify returns the partition chosen by the model. Failures carry no partial result.
func (c *Classifier) Classify(ctx context.Context, text string) (monitor.Partition, error) {
	if strings.TrimSpace(text) == "" {
		return "", monitor.ErrEmptyText
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: c.Prompt(text)},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	metrics.ObserveClassifierLatency(time.Since(start))
	if err != nil {
		return "", &monitor.ClassificationError{Kind: monitor.KindTransport, Err: parseAPIError(err)}
	}
	if len(resp.Choices) == 0 {
		return "", &monitor.ClassificationError{
			Kind: monitor.KindProtocol,
			Err:  fmt.Errorf("empty completion: %w", monitor.ErrInvalidAnswer),
		}
	}

	answer := resp.Choices[0].Message.Content
	partition, err := Parse(answer)
	if err != nil {
		c.logger.Warn("classifier returned an answer outside the allowed set",
			zap.String("answer", truncate(answer, 64)),
			zap.String("text", truncate(text, 100)),
		)
		return "", err
	}
	return partition, nil
}

// Parse maps a raw model answer to a partition. Only "1", "2" and "3" (after
// trimming whitespace) are accepted.
func Parse(answer string) (monitor.Partition, error) {
	switch strings.TrimSpace(answer) {
	case "1":
		return monitor.PartitionUnhandled, nil
	case "2":
		return monitor.PartitionMishandled, nil
	case "3":
		return monitor.PartitionNonIssue, nil
	default:
		return "", &monitor.ClassificationError{
			Kind:   monitor.KindProtocol,
			Answer: answer,
			Err:    monitor.ErrInvalidAnswer,
		}
	}
}

// parseAPIError extracts a human-readable error from the API response.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("chat API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("chat API error %d: %s: %w", reqErr.HTTPStatusCode, truncate(string(reqErr.Body), 200), err)
	}
	return fmt.Errorf("chat request failed: %w", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
