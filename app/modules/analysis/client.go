package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// ClientConfig configures the HTTP provider client.
type ClientConfig struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MaxRetries    uint64
}

// Client talks JSON over HTTP to the analysis provider.
type Client struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	logger     *slog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient builds a client. When TokenURL is set, requests carry an OAuth2
// client-credentials token.
func NewClient(ctx context.Context, cfg ClientConfig, logger *slog.Logger) *Client {
	httpClient := &http.Client{}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(ctx)
	}
	httpClient.Timeout = cfg.Timeout

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		logger:     logger.With(attr.String("component", "analysis_client")),
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if id := attr.CorrelationID(ctx); id != "" {
			req.Header.Set("X-Correlation-ID", id)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.WarnContext(ctx, "Analysis request failed",
				attr.String("path", path),
				attr.Int("attempt", attempt),
				attr.Error(err),
			)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			statusErr := &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			if statusErr.Retryable() {
				c.logger.WarnContext(ctx, "Analysis provider returned retryable status",
					attr.String("path", path),
					attr.Int("status", resp.StatusCode),
					attr.Int("attempt", attempt),
				)
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("analysis %s: %w", path, err)
	}
	return nil
}

type sentenceRequest struct {
	Sentence string `json:"sentence"`
}

type correctionResponse struct {
	Status    string    `json:"status"`
	Corrected string    `json:"corrected"`
	Grammar   []Mistake `json:"grammar_errors"`
	Spelling  []Mistake `json:"spelling_errors"`
}

func (c *Client) CorrectSentence(ctx context.Context, sentence string) (Correction, error) {
	var resp correctionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/correction", sentenceRequest{Sentence: sentence}, &resp); err != nil {
		return Correction{}, err
	}
	status, ok := ParseCorrectionStatus(resp.Status)
	if !ok {
		return Correction{}, fmt.Errorf("analysis /v1/correction: unknown status %q", resp.Status)
	}
	return Correction{
		Status:    status,
		Corrected: resp.Corrected,
		Grammar:   resp.Grammar,
		Spelling:  resp.Spelling,
	}, nil
}

func (c *Client) CheckGrammar(ctx context.Context, sentence string) (GrammarReport, error) {
	var resp GrammarReport
	err := c.do(ctx, http.MethodPost, "/v1/grammar", sentenceRequest{Sentence: sentence}, &resp)
	return resp, err
}

func (c *Client) AnalyzeWords(ctx context.Context, sentence string) (WordStats, error) {
	var resp WordStats
	err := c.do(ctx, http.MethodPost, "/v1/words", sentenceRequest{Sentence: sentence}, &resp)
	return resp, err
}

func (c *Client) Fluency(ctx context.Context, sentence string, references []string) (float64, error) {
	req := struct {
		Sentence   string   `json:"sentence"`
		References []string `json:"references,omitempty"`
	}{sentence, references}
	var resp struct {
		Perplexity float64 `json:"perplexity"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/fluency", req, &resp); err != nil {
		return 0, err
	}
	return resp.Perplexity, nil
}

func (c *Client) ContentMatch(ctx context.Context, imageURL, sentence string) (float64, error) {
	req := struct {
		ImageURL string `json:"image_url"`
		Sentence string `json:"sentence"`
	}{imageURL, sentence}
	var resp struct {
		ContentScore float64 `json:"content_score"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/content", req, &resp); err != nil {
		return 0, err
	}
	return resp.ContentScore, nil
}

func (c *Client) RegenerateImage(ctx context.Context, sentence, style string) ([]byte, error) {
	req := struct {
		Prompt string `json:"prompt"`
		Style  string `json:"style,omitempty"`
	}{sentence, style}
	var resp struct {
		ImageB64 string `json:"image_b64"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/images", req, &resp); err != nil {
		return nil, err
	}
	if resp.ImageB64 == "" {
		return nil, ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(resp.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("decode regenerated image: %w", err)
	}
	return data, nil
}

// ImageSimilarity is computed locally; the provider only supplies the images.
func (c *Client) ImageSimilarity(_ context.Context, original, regenerated []byte) (float64, error) {
	return Similarity(original, regenerated)
}

func (c *Client) EvaluationScores(ctx context.Context, req EvaluationRequest) (EvaluationScores, error) {
	var resp EvaluationScores
	err := c.do(ctx, http.MethodPost, "/v1/evaluation/scores", req, &resp)
	return resp, err
}

func (c *Client) Evaluate(ctx context.Context, req EvaluationRequest) (string, error) {
	var resp struct {
		Evaluation string `json:"evaluation"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/evaluation", req, &resp); err != nil {
		return "", err
	}
	return resp.Evaluation, nil
}

func (c *Client) OpenHintSession(ctx context.Context, hc HintContext) (HintSession, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/hint/sessions", hc, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, errors.New("analysis /v1/hint/sessions: empty session id")
	}
	return &httpHintSession{client: c, id: resp.SessionID}, nil
}
