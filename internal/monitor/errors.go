package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyKeyword is returned when a search is attempted without a keyword.
	ErrEmptyKeyword = errors.New("keyword is required")
	// ErrEmptyText is returned when classification is attempted on empty text.
	ErrEmptyText = errors.New("text is required")
	// ErrInvalidAnswer marks a classifier answer outside the closed answer set.
	ErrInvalidAnswer = errors.New("classifier answer outside {1,2,3}")
)

// SearchStatusError reports a non-success response from the search provider. It
// ends the current keyword's session but is distinct from result exhaustion.
type SearchStatusError struct {
	StatusCode int
	Body       string
}

func (e *SearchStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("search provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("search provider returned status %d: %s", e.StatusCode, e.Body)
}

// ErrorKind separates service failures from malformed answers.
type ErrorKind string

// Classification error kinds.
const (
	KindTransport ErrorKind = "transport"
	KindProtocol  ErrorKind = "protocol"
)

// ClassificationError is a per-item classification failure. It carries no partial result.
type ClassificationError struct {
	Kind   ErrorKind
	Answer string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Kind == KindProtocol {
		return fmt.Sprintf("classification %s error: answer %q: %v", e.Kind, e.Answer, e.Err)
	}
	return fmt.Sprintf("classification %s error: %v", e.Kind, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// ClassificationErrorKind extracts the kind of a classification failure, defaulting to transport.
func ClassificationErrorKind(err error) ErrorKind {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransport
}
