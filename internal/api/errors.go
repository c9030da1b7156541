package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

// errorBody is the error payload of the ticketing API.
type errorBody struct {
	Detail string `json:"detail"`
}

// newApiError builds an ApiError from a non-2xx response. The server's
// detail text is used as the message when present.
func newApiError(statusCode int, body []byte) *ApiError {
	e := &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Detail != "" {
		e.Message = eb.Detail
	}

	return e
}

// IsUnauthorized reports whether err is an ApiError for a rejected
// credential.
func IsUnauthorized(err error) bool {
	var e *ApiError
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
