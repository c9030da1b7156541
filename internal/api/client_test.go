package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-ticketchat/internal/auth"
	"github.com/npezzotti/go-ticketchat/internal/testutil"
	"github.com/npezzotti/go-ticketchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err, "expected token to be signed")
	return tok
}

func newProfileServer(t *testing.T, status int, body string) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/auth/me/", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCurrentUser(t *testing.T) {
	tcases := []struct {
		name       string
		status     int
		body       string
		expected   types.User
		statusCode int
		message    string
	}{
		{
			name:     "ok",
			status:   http.StatusOK,
			body:     `{"id":4,"username":"emp","email":"emp@example.com","role":"employee","first_name":"E"}`,
			expected: types.User{Id: 4, Username: "emp", Email: "emp@example.com", Role: "employee"},
		},
		{
			name:       "unauthorized with detail",
			status:     http.StatusUnauthorized,
			body:       `{"detail":"Given token not valid for any token type"}`,
			statusCode: http.StatusUnauthorized,
			message:    "Given token not valid for any token type",
		},
		{
			name:       "server error without body",
			status:     http.StatusInternalServerError,
			body:       ``,
			statusCode: http.StatusInternalServerError,
			message:    "internal server error",
		},
		{
			name:       "malformed body",
			status:     http.StatusOK,
			body:       `<html>`,
			statusCode: http.StatusOK,
			message:    "invalid response body",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newProfileServer(t, tc.status, tc.body)
			c := NewClient(srv.URL+"/api/", auth.StaticToken("secret-token"), srv.Client(), testutil.TestLogger(t))

			u, err := c.CurrentUser(context.Background())
			if tc.statusCode != 0 {
				var apiErr *ApiError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tc.statusCode, apiErr.StatusCode)
				assert.Equal(t, tc.message, apiErr.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, u)
		})
	}
}

func TestCurrentUserWithoutId(t *testing.T) {
	srv, _ := newProfileServer(t, http.StatusOK, `{"username":"anon"}`)
	c := NewClient(srv.URL+"/api", auth.StaticToken("secret-token"), srv.Client(), nil)

	_, err := c.CurrentUser(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoIdentity)
}

func TestCurrentUserNoCredential(t *testing.T) {
	srv, hits := newProfileServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL+"/api", auth.StaticToken(""), srv.Client(), nil)

	_, err := c.CurrentUser(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoCredential)
	assert.Equal(t, 0, *hits, "expected no request without a credential")
}

func TestResolveSelf(t *testing.T) {
	full := jwt.MapClaims{"user_id": float64(7), "username": "emp"}
	idOnly := jwt.MapClaims{"user_id": float64(7), "token_type": "access"}
	noId := jwt.MapClaims{"token_type": "access"}

	tcases := []struct {
		name     string
		claims   jwt.MapClaims
		status   int
		body     string
		expected types.User
		hits     int
		err      bool
	}{
		{
			name:     "claims are enough",
			claims:   full,
			status:   http.StatusOK,
			body:     `{}`,
			expected: types.User{Id: 7, Username: "emp"},
			hits:     0,
		},
		{
			name:     "profile fills in the name",
			claims:   idOnly,
			status:   http.StatusOK,
			body:     `{"id":7,"username":"emp","role":"employee"}`,
			expected: types.User{Id: 7, Username: "emp", Role: "employee"},
			hits:     1,
		},
		{
			name:     "profile down falls back to claims",
			claims:   idOnly,
			status:   http.StatusBadGateway,
			body:     ``,
			expected: types.User{Id: 7},
			hits:     1,
		},
		{
			name:   "profile rejects the token",
			claims: idOnly,
			status: http.StatusUnauthorized,
			body:   `{"detail":"expired"}`,
			hits:   1,
			err:    true,
		},
		{
			name:     "no id claim uses profile",
			claims:   noId,
			status:   http.StatusOK,
			body:     `{"id":9,"username":"admin"}`,
			expected: types.User{Id: 9, Username: "admin"},
			hits:     1,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tok := signToken(t, tc.claims)

			var hits int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				assert.Equal(t, "Bearer "+tok, r.Header.Get("Authorization"))
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, auth.StaticToken(tok), srv.Client(), testutil.TestLogger(t))
			u, err := c.ResolveSelf(context.Background())

			assert.Equal(t, tc.hits, hits)
			if tc.err {
				assert.True(t, IsUnauthorized(err), "expected an unauthorized error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, u)
		})
	}
}

func TestApiError(t *testing.T) {
	wrapped := errors.New("boom")
	err := &ApiError{StatusCode: http.StatusBadGateway, Message: "bad gateway", Err: wrapped}

	assert.Equal(t, "bad gateway: boom", err.Error())
	assert.ErrorIs(t, err, wrapped)
	assert.False(t, IsUnauthorized(err))
	assert.True(t, IsUnauthorized(newApiError(http.StatusForbidden, nil)))
	assert.False(t, IsUnauthorized(errors.New("plain")))
}
