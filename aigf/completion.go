package aigf

import (
	"context"
	"errors"
	"fmt"
	"github.com/sashabaranov/go-openai"
	"regexp"
	"strconv"
	"strings"
)

const (
	contextLengthErrorPrefix = "This model's maximum context length is"
	contextLengthErrorCode   = "context_length_exceeded"
)

var (
	// ErrContextLengthExceeded is matched by errors from the completion
	// provider reporting the prompt doesn't fit the model's context
	ErrContextLengthExceeded = errors.New("context length exceeded")

	// ErrContextOverflow is returned when the prompt still exceeds the
	// context length with no messages left to trim
	ErrContextOverflow = errors.New("prompt exceeds the context length with no messages left to trim")

	ErrEmptyCompletion = errors.New("completion returned no choices")

	reMaxContextTokens  = regexp.MustCompile(`maximum context length is (\d+)`)
	reRequestedTokens   = regexp.MustCompile(`requested (\d+) tokens`)
	rePromptTokens      = regexp.MustCompile(`\((\d+) in your prompt`)
	reCompletionTokens  = regexp.MustCompile(`; (\d+) for the completion`)
	reContextLengthNums = []*regexp.Regexp{
		reMaxContextTokens,
		reRequestedTokens,
		rePromptTokens,
		reCompletionTokens,
	}
)

// Completer generates text continuing a prompt
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest holds everything sent to the provider for a single
// prediction
type CompletionRequest struct {
	SessionID        string   `json:"session_id"`
	Engine           string   `json:"engine"`
	Prompt           string   `json:"prompt"`
	Temperature      float32  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens"`
	TopP             float32  `json:"top_p"`
	FrequencyPenalty float32  `json:"frequency_penalty"`
	PresencePenalty  float32  `json:"presence_penalty"`
	Stop             []string `json:"stop"`
}

// ContextLengthError is returned when the prompt plus the requested
// completion exceeds the model's context length. Token counts are zero
// when the provider's message doesn't include them.
type ContextLengthError struct {
	MaxTokens        int
	RequestedTokens  int
	PromptTokens     int
	CompletionTokens int
	Message          string
	Err              error
}

func (e *ContextLengthError) Error() string {
	return fmt.Sprintf("%s: %s", ErrContextLengthExceeded, e.Message)
}

func (e *ContextLengthError) Unwrap() error {
	return e.Err
}

func (e *ContextLengthError) Is(target error) bool {
	return target == ErrContextLengthExceeded
}

// parseContextLengthError returns a *ContextLengthError if err is the
// provider reporting an oversized prompt.
func parseContextLengthError(err error) (*ContextLengthError, bool) {
	if err == nil {
		return nil, false
	}

	var msg string
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
		if code, ok := apiErr.Code.(string); ok && code == contextLengthErrorCode {
			return parseContextLengthMessage(msg, err), true
		}
	} else {
		msg = err.Error()
	}

	if !strings.HasPrefix(msg, contextLengthErrorPrefix) {
		return nil, false
	}
	return parseContextLengthMessage(msg, err), true
}

// parseContextLengthMessage extracts token counts from a message like:
//
//	This model's maximum context length is 4097 tokens, however you
//	requested 10000 tokens (8976 in your prompt; 1024 for the completion).
func parseContextLengthMessage(msg string, err error) *ContextLengthError {
	counts := make([]int, len(reContextLengthNums))
	for i, re := range reContextLengthNums {
		if m := re.FindStringSubmatch(msg); m != nil {
			counts[i], _ = strconv.Atoi(m[1])
		}
	}
	return &ContextLengthError{
		MaxTokens:        counts[0],
		RequestedTokens:  counts[1],
		PromptTokens:     counts[2],
		CompletionTokens: counts[3],
		Message:          msg,
		Err:              err,
	}
}
