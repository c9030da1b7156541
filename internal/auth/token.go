package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNoCredential = errors.New("no credential available")

// TokenSource yields the bearer token used to authenticate a chat
// connection. It is consulted on every connection attempt so that a
// rotated token is picked up on reconnect.
type TokenSource interface {
	Token() (string, error)
}

// TokenFunc adapts a function to a TokenSource.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) {
	return f()
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}

// FileToken reads the token from a file on every call. An external
// refresher can rewrite the file to rotate the credential.
type FileToken string

func (f FileToken) Token() (string, error) {
	raw, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}

// EnvToken reads the token from the named environment variable.
type EnvToken string

func (e EnvToken) Token() (string, error) {
	tok := strings.TrimSpace(os.Getenv(string(e)))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}
