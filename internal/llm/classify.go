package llm

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"ai-market-analyst/internal/shared"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// throttleSignatures are the fragments providers put in quota rejections when
// they do not expose a structured status.
var throttleSignatures = []string{
	"rate limit",
	"ratelimit",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
}

// statusTooManyRequests matches a 429 that is labeled as a status code, not
// any number that happens to contain those digits.
var statusTooManyRequests = regexp.MustCompile(`\b(?:error|status|code|http)(?:[ _]?code)?\s*[:=]?\s*429\b`)

// classifyProviderError maps a raw provider failure onto the shared taxonomy.
// Errors that are already typed pass through untouched.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if shared.IsThrottling(err) || shared.IsValidation(err) || shared.IsUnavailable(err) || shared.IsFatal(err) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return &shared.ThrottlingError{Provider: provider, Err: err}
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return &shared.ThrottlingError{Provider: provider, Err: err}
	}

	msg := strings.ToLower(err.Error())
	if statusTooManyRequests.MatchString(msg) {
		return &shared.ThrottlingError{Provider: provider, Err: err}
	}
	for _, sig := range throttleSignatures {
		if strings.Contains(msg, sig) {
			return &shared.ThrottlingError{Provider: provider, Err: err}
		}
	}
	return err
}
