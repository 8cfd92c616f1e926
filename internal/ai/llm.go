package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpipe/pkg/config"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/util"
)

// LLMClient talks to an OpenAI-compatible chat completions endpoint.
// Every call carries a hard timeout; transient failures get bounded
// retries with capped exponential backoff.
type LLMClient struct {
	baseURL       string
	apiKey        string
	classifyModel string
	summaryModel  string

	maxRetries  int
	backoffBase time.Duration

	httpClient *http.Client
	logger     *zap.Logger
}

func NewLLMClient(cfg config.AIConfig, logger *zap.Logger) *LLMClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := strings.TrimSuffix(cfg.LLMBaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}

	return &LLMClient{
		baseURL:       base,
		apiKey:        cfg.LLMAPIKey,
		classifyModel: cfg.ClassifyModel,
		summaryModel:  cfg.SummaryModel,
		maxRetries:    cfg.MaxRetries,
		backoffBase:   cfg.RetryBackoffBase,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Provider identifies where results came from, for the metadata row.
func (c *LLMClient) Provider() string {
	if strings.HasPrefix(c.baseURL, "https://api.openai.com") {
		return "openai"
	}
	return "openai-compatible"
}

func (c *LLMClient) ClassifyModel() string { return c.classifyModel }
func (c *LLMClient) SummaryModel() string  { return c.summaryModel }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type llmClassification struct {
	Category   string  `json:"category"`
	Spam       bool    `json:"spam"`
	Confidence float64 `json:"confidence"`
	Cold       bool    `json:"cold"`
	Reason     string  `json:"reason"`
}

// Classify asks the LLM for labels. A nil result with nil error means
// the answer was not usable JSON; the caller falls back to heuristics.
func (c *LLMClient) Classify(ctx context.Context, subject, from, body string) (*Result, error) {
	content, err := c.chat(ctx, c.classifyModel, classifySystemPrompt, buildClassifyUserPrompt(subject, from, body))
	if err != nil {
		return nil, err
	}

	var parsed llmClassification
	if !ExtractJSON(content, &parsed) || parsed.Category == "" {
		c.logger.Warn("LLM classify answer is not usable JSON",
			zap.String("content", truncate(content, 200)),
		)
		return nil, nil
	}

	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return &Result{
		Category:   NormalizeCategory(parsed.Category),
		Spam:       parsed.Spam,
		Confidence: confidence,
		Cold:       parsed.Cold,
		Reason:     parsed.Reason,
	}, nil
}

// SummaryOutput LLM 摘要阶段的结构化返回
type SummaryOutput struct {
	Summary string `json:"summary"`
	Action  struct {
		Type    string         `json:"type"`
		Reason  string         `json:"reason"`
		Details map[string]any `json:"details"`
	} `json:"action"`
	Confidence float64 `json:"confidence"`
	Events     []struct {
		Summary   string   `json:"summary"`
		Start     string   `json:"start"`
		End       string   `json:"end"`
		Location  string   `json:"location"`
		Attendees []string `json:"attendees"`
	} `json:"events"`
	Tracking []struct {
		Carrier        string `json:"carrier"`
		TrackingNumber string `json:"trackingNumber"`
		URL            string `json:"url"`
		Status         string `json:"status"`
		DeliveryDate   string `json:"deliveryDate"`
	} `json:"tracking"`
}

// SummarizeAndAction asks for the structured summary object.
func (c *LLMClient) SummarizeAndAction(ctx context.Context, subject, from, body string) (*SummaryOutput, error) {
	content, err := c.chat(ctx, c.summaryModel, summarySystemPrompt, buildSummaryUserPrompt(subject, from, body))
	if err != nil {
		return nil, err
	}

	var parsed SummaryOutput
	if !ExtractJSON(content, &parsed) || parsed.Summary == "" {
		c.logger.Warn("LLM summary answer is not usable JSON",
			zap.String("content", truncate(content, 200)),
		)
		return nil, nil
	}
	return &parsed, nil
}

// chat performs the completion request with bounded retries for
// transient errors.
func (c *LLMClient) chat(ctx context.Context, model, system, user string) (string, error) {
	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.chatOnce(ctx, model, system, user)
		if err == nil {
			return content, nil
		}
		lastErr = err

		retryable, errType := util.IsRetryableError(err)
		if !retryable || attempt == attempts {
			break
		}

		backoff := c.backoffBase << uint(attempt-1)
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
		c.logger.Warn("LLM call failed, retrying",
			zap.String("model", model),
			zap.String("error_type", errType),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

func (c *LLMClient) chatOnce(ctx context.Context, model, system, user string) (string, error) {
	start := time.Now()

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAICallLatency("llm", "error", time.Since(start))
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	rawText, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.RecordAICallLatency("llm", "error", time.Since(start))
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordAICallLatency("llm", fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
		return "", fmt.Errorf("llm request failed: %d %s", resp.StatusCode, truncate(string(rawText), 500))
	}

	var data chatResponse
	if err := json.Unmarshal(rawText, &data); err != nil {
		metrics.RecordAICallLatency("llm", "bad_json", time.Since(start))
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	metrics.RecordAICallLatency("llm", "success", time.Since(start))

	if len(data.Choices) == 0 {
		return "", nil
	}
	return data.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
