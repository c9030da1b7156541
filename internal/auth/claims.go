package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

var (
	ErrTokenExpired  = errors.New("token expired")
	ErrNoIdentity    = errors.New("token carries no user id")
	ErrInvalidClaims = errors.New("invalid token claims")
)

const (
	userIdClaim   = "user_id"
	idClaim       = "id"
	subjectClaim  = "sub"
	usernameClaim = "username"
	emailClaim    = "email"
	roleClaim     = "role"
)

// parseClaims decodes the token payload without verifying the
// signature. The chat server verifies; the client only needs to know
// who it is and whether the token is still usable.
func parseClaims(tokenString string) (jwt.MapClaims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}

	return claims, nil
}

// UserFromToken extracts the local user's identity from an access
// token. The id is taken from user_id, falling back to id and sub.
func UserFromToken(tokenString string) (types.User, error) {
	claims, err := parseClaims(tokenString)
	if err != nil {
		return types.User{}, err
	}

	var userId int
	for _, key := range []string{userIdClaim, idClaim, subjectClaim} {
		if id, ok := intClaim(claims[key]); ok {
			userId = id
			break
		}
	}
	if userId == 0 {
		return types.User{}, ErrNoIdentity
	}

	username, _ := claims[usernameClaim].(string)
	email, _ := claims[emailClaim].(string)
	role, _ := claims[roleClaim].(string)

	return types.User{
		Id:       userId,
		Username: username,
		Email:    email,
		Role:     role,
	}, nil
}

// CheckExpiry returns ErrTokenExpired if the token's exp claim is
// before now. Tokens without exp are accepted.
func CheckExpiry(tokenString string, now time.Time) error {
	claims, err := parseClaims(tokenString)
	if err != nil {
		return err
	}

	if !claims.VerifyExpiresAt(now.Unix(), false) {
		return ErrTokenExpired
	}

	return nil
}

func intClaim(v any) (int, bool) {
	switch id := v.(type) {
	case float64:
		return int(id), id > 0
	case string:
		n, err := strconv.Atoi(id)
		if err != nil {
			return 0, false
		}
		return n, n > 0
	}

	return 0, false
}
