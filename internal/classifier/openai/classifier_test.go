package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/monitor"
)

func completion(content string) string {
	return fmt.Sprintf(`{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1736800000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 180, "completion_tokens": 1, "total_tokens": 181}
}`, content)
}

func newTestClassifier(t *testing.T, handler http.HandlerFunc) *Classifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

func TestClassifySendsPromptAndParsesAnswer(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		assert.InDelta(t, 0.2, req.Temperature, 0.0001)
		if assert.Len(t, req.Messages, 1) {
			assert.Contains(t, req.Messages[0].Content, "As a TikTok Governance PM")
			assert.Contains(t, req.Messages[0].Content, "Comment:\nthey banned me for nothing")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion(" 2\n")))
	})

	p, err := c.Classify(context.Background(), "they banned me for nothing")
	require.NoError(t, err)
	require.Equal(t, monitor.PartitionMishandled, p)
}

func TestClassifyRejectsOutOfSetAnswer(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("4")))
	})

	p, err := c.Classify(context.Background(), "some comment")
	require.Empty(t, p)
	require.ErrorIs(t, err, monitor.ErrInvalidAnswer)
	require.Equal(t, monitor.KindProtocol, monitor.ClassificationErrorKind(err))
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream overloaded", "type": "server_error"}}`))
	})

	_, err := c.Classify(context.Background(), "some comment")
	require.Error(t, err)
	require.Equal(t, monitor.KindTransport, monitor.ClassificationErrorKind(err))
	require.Contains(t, err.Error(), "upstream overloaded")
}

func TestClassifyEmptyTextMakesNoCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClassifier(t, func(http.ResponseWriter, *http.Request) { calls.Add(1) })

	_, err := c.Classify(context.Background(), " \n")
	require.ErrorIs(t, err, monitor.ErrEmptyText)
	require.Zero(t, calls.Load())
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := map[string]monitor.Partition{
		"1":       monitor.PartitionUnhandled,
		" 2 ":     monitor.PartitionMishandled,
		"3\n":     monitor.PartitionNonIssue,
		"\t1\r\n": monitor.PartitionUnhandled,
	}
	for answer, want := range cases {
		got, err := Parse(answer)
		require.NoError(t, err, answer)
		require.Equal(t, want, got)
	}

	for _, bad := range []string{"", "0", "4", "1.", "2 - mishandled", "one", "12"} {
		_, err := Parse(bad)
		var ce *monitor.ClassificationError
		require.True(t, errors.As(err, &ce), bad)
		require.Equal(t, monitor.KindProtocol, ce.Kind)
		require.Equal(t, bad, ce.Answer)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	got := truncate("ab"+strings.Repeat("ü", 4), 5)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, "abü...", got)

	require.Equal(t, "short", truncate("short", 64))
}

func TestPromptUsesPlatform(t *testing.T) {
	t.Parallel()

	c, err := New(Config{APIKey: "k", Platform: "Instagram"})
	require.NoError(t, err)
	prompt := c.Prompt("hello")
	require.Contains(t, prompt, "As a Instagram Governance PM")
	require.Contains(t, prompt, "Instagram's action made things worse")
	require.NotContains(t, prompt, "TikTok")

	_, err = New(Config{})
	require.Error(t, err)
}
