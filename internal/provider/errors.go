package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRateLimited marks a request refused for quota or rate reasons.
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout marks a request that exceeded its deadline.
	ErrTimeout = errors.New("timed out")
	// ErrMalformed marks a response that could not be used.
	ErrMalformed = errors.New("malformed response")
)

// Reason is the failure category recorded per provider.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonRateLimited Reason = "rate_limited"
	ReasonMalformed   Reason = "malformed"
	ReasonError       Reason = "error"
)

// StatusError is a non-2xx HTTP reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// Classify maps a provider error to a failure reason.
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}

	if code := statusCode(err); code != 0 {
		switch code {
		case http.StatusTooManyRequests:
			return ReasonRateLimited
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return ReasonTimeout
		}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return ReasonRateLimited
		case codes.DeadlineExceeded:
			return ReasonTimeout
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	message := strings.ToLower(err.Error())
	for _, token := range []string{"429", "rate limit", "quota", "resource_exhausted"} {
		if strings.Contains(message, token) {
			return ReasonRateLimited
		}
	}
	for _, token := range []string{"timeout", "deadline exceeded", "awaiting headers"} {
		if strings.Contains(message, token) {
			return ReasonTimeout
		}
	}
	return ReasonError
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}
