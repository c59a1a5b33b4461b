package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adwski/call-signaling/backend/model"
)

var (
	ErrNoToken      = errors.New("missing authorization token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("token carries no user id")
)

// Authenticator validates connection credentials and resolves the
// authenticated user id. Ids that cannot participate in room derivation
// are rejected here so the rest of the subsystem can treat them as
// opaque.
type Authenticator struct {
	secret []byte
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate extracts and validates a JWT from the Authorization header
// or, for websocket upgrades, the token query parameter.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return "", ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || !model.ValidUserID(userID) {
		return "", ErrNoSubject
	}
	return userID, nil
}

func extractToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
