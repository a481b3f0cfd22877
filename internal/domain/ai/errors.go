package ai

import "errors"

// ErrQuotaExceeded indicates the advisor provider returned a quota/limit
// error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrAnalyzerUnavailable indicates the inference service could not be
// reached or returned a non-success status.
var ErrAnalyzerUnavailable = errors.New("analyzer unavailable")
