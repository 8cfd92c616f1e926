package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	errStr := err.Error()

	// JSON decode errors - 不可重试（数据格式错误）
	if _, ok := err.(*json.SyntaxError); ok {
		return false, "json_decode_error"
	}
	if _, ok := err.(*json.UnmarshalTypeError); ok {
		return false, "json_decode_error"
	}
	if strings.Contains(errStr, "json:") {
		return false, "json_decode_error"
	}

	// Database errors
	if errors.Is(err, pgx.ErrNoRows) {
		// 目标行不存在 - 不可重试
		return false, "row_not_found"
	}
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		// 唯一约束冲突 - 不可重试（幂等性）
		return false, "duplicate_key"
	}

	// Configuration errors - terminal, retrying cannot fix them
	if strings.Contains(errStr, "missing imap credentials") || strings.Contains(errStr, "failed to decrypt") {
		return false, "missing_credentials"
	}
	if strings.Contains(errStr, "account not found") || strings.Contains(errStr, "message not found") {
		return false, "not_found"
	}
	if strings.Contains(errStr, "sync disabled") {
		return false, "sync_disabled"
	}

	// IMAP protocol errors - 可重试
	if strings.Contains(errStr, "invalid messageset") || strings.Contains(errStr, "Invalid messageset") {
		return true, "imap_invalid_range"
	}
	if strings.Contains(errStr, "session pool exhausted") {
		// 连接池满 - 让 job 系统稍后重试
		return true, "imap_pool_exhausted"
	}

	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return true, "connection_error"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// LLM / classifier service degradation - 可重试（少量）
	if strings.Contains(errStr, "llm request failed") || strings.Contains(errStr, "classifier request failed") {
		return true, "ai_service_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}
