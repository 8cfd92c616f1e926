package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mailpipe/pkg/circuitbreaker"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/trace"
)

// LocalClassifier calls the fast in-house classifier service. Each
// candidate endpoint has its own circuit breaker so one dead replica
// does not slow down the rest.
type LocalClassifier struct {
	endpoints  []string
	breakers   []*circuitbreaker.CircuitBreaker
	httpClient *http.Client
	logger     *zap.Logger
}

func NewLocalClassifier(endpoints []string, timeout time.Duration, logger *zap.Logger) *LocalClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	breakers := make([]*circuitbreaker.CircuitBreaker, len(endpoints))
	for i := range endpoints {
		breakers[i] = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold:    3,
			SuccessThreshold:    2,
			Timeout:             30 * time.Second,
			HalfOpenMaxRequests: 2,
		})
	}

	return &LocalClassifier{
		endpoints:  endpoints,
		breakers:   breakers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type predictRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type predictResponse struct {
	SpamProbability   float64   `json:"spam_probability"`
	Categories        []string  `json:"categories"`
	CategoryProbs     []float64 `json:"category_probs"`
	PredictedCategory string    `json:"predicted_category"`
}

// Classify tries each candidate endpoint in order and returns the first
// answer. Best-effort: any failure returns nil and the caller moves to
// the next tier.
func (c *LocalClassifier) Classify(ctx context.Context, subject, body string) *Result {
	for i, endpoint := range c.endpoints {
		resp, err := c.predict(ctx, i, endpoint, subject, body)
		if err != nil {
			c.logger.Debug("Local classifier unavailable",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}
		return resultFromPrediction(resp)
	}
	return nil
}

func (c *LocalClassifier) predict(ctx context.Context, idx int, endpoint, subject, body string) (*predictResponse, error) {
	var out *predictResponse

	err := c.breakers[idx].Execute(func() error {
		start := time.Now()
		payload, err := json.Marshal(predictRequest{Subject: subject, Body: body})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName, traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordAICallLatency(endpoint, "error", time.Since(start))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.RecordAICallLatency(endpoint, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
			text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("classifier request failed: %d %s", resp.StatusCode, text)
		}

		var decoded predictResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			metrics.RecordAICallLatency(endpoint, "bad_json", time.Since(start))
			return fmt.Errorf("classifier request failed: %w", err)
		}

		metrics.RecordAICallLatency(endpoint, "success", time.Since(start))
		out = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resultFromPrediction(p *predictResponse) *Result {
	confidence := 0.5
	for _, prob := range p.CategoryProbs {
		if prob > confidence {
			confidence = prob
		}
	}
	return &Result{
		Category:   NormalizeCategory(p.PredictedCategory),
		Spam:       p.SpamProbability >= 0.5,
		Confidence: confidence,
		Reason:     "local classifier prediction",
	}
}
