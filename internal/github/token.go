package github

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

type AuthTokenSource string

const (
	AuthTokenSourceInput AuthTokenSource = "input:token"
	AuthTokenSourceEnv   AuthTokenSource = "env:GITHUB_TOKEN"
)

// ErrNoToken is returned when neither the token input nor GITHUB_TOKEN is set.
var ErrNoToken = errors.New("a GitHub token is required (set the token input or GITHUB_TOKEN)")

// ResolveAuthToken resolves the token used for hosting API calls.
//
// Precedence:
//  1. the step's token input (if non-empty)
//  2. GITHUB_TOKEN env var
//
// It never prints the token.
func ResolveAuthToken(input string) (token string, source AuthTokenSource, err error) {
	if tok := strings.TrimSpace(input); tok != "" {
		return tok, AuthTokenSourceInput, nil
	}
	if env := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); env != "" {
		return env, AuthTokenSourceEnv, nil
	}
	return "", "", ErrNoToken
}
