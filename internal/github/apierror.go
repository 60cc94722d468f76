package github

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v81/github"
)

// StatusCode returns the HTTP status carried by a go-github error, or 0 when
// the request never got a response.
func StatusCode(err error) int {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) && rle.Response != nil {
		return rle.Response.StatusCode
	}
	return 0
}

// DescribeError renders an API error for logs. Unless verbose, the request
// method and URL are dropped so logs stay short and free of query strings.
func DescribeError(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	full := err.Error()
	if verbose {
		return full
	}

	// Prefer structured GitHub error types to avoid leaking full request URLs.
	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg := strings.TrimSpace(er.Message)
		if msg == "" {
			msg = "GitHub API request failed"
		}
		if er.Response != nil {
			code := er.Response.StatusCode
			return fmt.Sprintf("GitHub API request failed (%d %s): %s", code, http.StatusText(code), msg)
		}
		return "GitHub API request failed: " + msg
	}

	if scrubbed := scrubRequestFromErrorString(strings.TrimSpace(full)); scrubbed != "" {
		return scrubbed
	}
	return full
}

func scrubRequestFromErrorString(s string) string {
	// Typical go-github error format:
	//   PUT https://api.github.com/...: 500 Some message. []
	// Drop the leading "PUT https://...: " part.
	for _, m := range []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE "} {
		if !strings.HasPrefix(s, m) {
			continue
		}
		if i := strings.Index(s, "://"); i >= 0 {
			if j := strings.Index(s[i:], ": "); j >= 0 {
				return strings.TrimSpace(s[i+j+2:])
			}
		}
		if j := strings.Index(s, ": "); j >= 0 {
			return strings.TrimSpace(s[j+2:])
		}
		break
	}
	return ""
}
