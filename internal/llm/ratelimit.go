package llm

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

var rateLimitPattern = regexp.MustCompile(`(?i)(rate.?limit|quota|too many requests|resource.?exhausted)`)

// IsRateLimit reports whether err is a rate-limit-class failure that another
// credential may not hit.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) && oaErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return true
	}
	return rateLimitPattern.MatchString(err.Error())
}
