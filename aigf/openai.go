package aigf

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OpenAIClient is the subset of the go-openai client used for predictions
type OpenAIClient interface {
	CreateCompletion(
		ctx context.Context,
		request openai.CompletionRequest,
	) (response openai.CompletionResponse, err error)
}

// OpenAI implements Completer with the legacy completions endpoint.
// Requests across all sessions share a single rate limiter.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	db             DBI

	mu *sync.RWMutex // protects requestLimiter
}

// CompletionLog records a single request to the completion provider
//
//nolint:lll // struct tags can't be split
type CompletionLog struct {
	ModelUintID
	ModelUnixTime

	SessionID string `json:"session_id" gorm:"index"`
	Engine    string `json:"engine"`

	RequestStarted int64 `json:"request_started"`
	RequestEnded   int64 `json:"request_ended"`

	RequestBody  string `json:"request_payload" gorm:"type:text"`
	ResponseBody string `json:"response_payload" gorm:"type:text"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	Error string `json:"error" gorm:"type:text"`
}

func newOpenAI(config *OpenAIConfig, db DBI, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		config: config,
		db:     db,
		mu:     &sync.RWMutex{},
		logger: newNamedLogger(config.LogLevel, "openai"),
	}

	clientCfg := openai.DefaultConfig(config.Token)
	if config.Organization != "" {
		clientCfg.OrgID = config.Organization
	}
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)
	o.SetRequestLimit(config.MaxRequestsPerSecond)

	return o
}

// SetRequestLimit replaces the request limiter
func (o *OpenAI) SetRequestLimit(perSecond float64) {
	if perSecond <= 0 {
		perSecond = DefaultOpenAIMaxRequestsPerSecond
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requestLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// waitOnRequestLimiter waits for the request limiter to allow the next request,
// returning any error from the limiter itself
func (o *OpenAI) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

// Complete sends the prompt to the completions endpoint and returns the
// generated text, trimmed of surrounding whitespace. A prompt exceeding
// the model's context length returns a *ContextLengthError.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	logger := contextLoggerOr(ctx, o.logger)

	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return "", fmt.Errorf("error waiting on request limiter: %w", err)
	}

	payload := openai.CompletionRequest{
		Model:            req.Engine,
		Prompt:           req.Prompt,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	}
	// zero values are omitted from the request body, which would leave
	// the provider's default temperature in place
	if payload.Temperature == 0 {
		payload.Temperature = math.SmallestNonzeroFloat32
	}

	apiLog := &CompletionLog{
		SessionID:      req.SessionID,
		Engine:         req.Engine,
		RequestStarted: time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(payload); err == nil {
		apiLog.RequestBody = string(data)
	}

	logger.DebugContext(
		ctx,
		"requesting completion",
		"engine", req.Engine,
		"prompt_length", len(req.Prompt),
		"temperature", req.Temperature,
	)

	resp, err := o.client.CreateCompletion(ctx, payload)
	apiLog.RequestEnded = time.Now().UnixMilli()
	defer o.saveLog(ctx, apiLog)

	if err != nil {
		apiLog.Error = err.Error()
		if cle, ok := parseContextLengthError(err); ok {
			logger.WarnContext(
				ctx,
				"prompt exceeds context length",
				"max_tokens", cle.MaxTokens,
				"requested_tokens", cle.RequestedTokens,
			)
			return "", cle
		}
		logger.ErrorContext(ctx, "error requesting completion", tint.Err(err))
		return "", err
	}

	if data, e := json.Marshal(resp); e == nil {
		apiLog.ResponseBody = string(data)
	}
	apiLog.PromptTokens = resp.Usage.PromptTokens
	apiLog.CompletionTokens = resp.Usage.CompletionTokens

	if len(resp.Choices) == 0 {
		apiLog.Error = ErrEmptyCompletion.Error()
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Text), nil
}

func (o *OpenAI) saveLog(ctx context.Context, apiLog *CompletionLog) {
	if o.db == nil {
		return
	}
	if _, err := o.db.Create(context.WithoutCancel(ctx), apiLog); err != nil {
		o.logger.ErrorContext(ctx, "error saving completion log", tint.Err(err))
	}
}
