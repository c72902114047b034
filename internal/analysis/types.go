// Package analysis holds the unit of work flowing through the worker pool
// and the HTTP client for the remote analysis service.
package analysis

import (
	"errors"
	"fmt"
)

// Request is one candidate to analyze. Requests are built once per run and
// never mutated afterwards.
type Request struct {
	// Seq is the candidate's position in the loaded list.
	Seq         int
	ID          string
	DisplayName string
}

// Result is the structured answer of the remote service.
type Result struct {
	Symbol     string  `json:"symbol"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Signal     string  `json:"signal,omitempty"`
	Summary    string  `json:"summary,omitempty"`
}

// Response is the outcome of one Request. Exactly one of Result and Err is set.
type Response struct {
	Request Request
	Result  *Result
	Err     error
}

func (r Response) OK() bool { return r.Err == nil && r.Result != nil }

var (
	ErrMalformed = errors.New("analysis: malformed response body")
	ErrNoScore   = errors.New("analysis: response carries no score")
)

// StatusError reports a non-2xx answer from the remote service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analysis: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("analysis: unexpected status %d: %s", e.Code, e.Body)
}
