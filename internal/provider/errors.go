package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Category is a coarse failure class. Raw provider errors carry API keys,
// request IDs and internal URLs in their bodies, so only the category ever
// reaches user-visible text; the full error goes to the log.
type Category string

const (
	CategoryRateLimited Category = "rate_limited"
	CategoryAuth        Category = "auth_failed"
	CategoryTimeout     Category = "timeout"
	CategoryNetwork     Category = "network"
	CategoryOverloaded  Category = "overloaded"
	CategoryBadRequest  Category = "bad_request"
	CategoryUnknown     Category = "provider_error"
)

// Classify maps a provider error to its category.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryTimeout
	}

	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return classifyStatus(aerr.StatusCode)
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return classifyStatus(oerr.StatusCode)
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	return CategoryUnknown
}

func classifyStatus(code int) Category {
	switch {
	case code == 401 || code == 403:
		return CategoryAuth
	case code == 429:
		return CategoryRateLimited
	case code == 408:
		return CategoryTimeout
	case code >= 500:
		return CategoryOverloaded
	case code >= 400:
		return CategoryBadRequest
	default:
		return CategoryUnknown
	}
}

// Transient reports whether a retry has any chance of succeeding.
// Auth and bad-request failures are terminal: the same request will fail
// the same way every time.
func Transient(err error) bool {
	switch Classify(err) {
	case CategoryRateLimited, CategoryTimeout, CategoryNetwork, CategoryOverloaded:
		return true
	default:
		return false
	}
}

// UserMessage renders a sanitized, user-facing line for a provider failure.
func UserMessage(err error) string {
	switch Classify(err) {
	case CategoryRateLimited:
		return "The model is rate-limited right now. Please try again in a moment."
	case CategoryAuth:
		return "The model rejected the configured credentials. Check the provider API key."
	case CategoryTimeout:
		return "The model took too long to respond. Please try again."
	case CategoryNetwork:
		return "Could not reach the model service. Please try again."
	case CategoryOverloaded:
		return "The model service is overloaded. Please try again shortly."
	case CategoryBadRequest:
		return "The request was rejected by the model service."
	default:
		return fmt.Sprintf("The model request failed (%s).", CategoryUnknown)
	}
}
