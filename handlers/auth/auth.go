package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// LocalSubject owns every canvas when no secret is configured.
const LocalSubject = "local"

const DefaultTokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Signer issues and verifies HS256 tokens. A Signer without a secret is
// disabled: Parse refuses every token.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	if secret == "" {
		logrus.Warn("JWT_SECRET not set, saved canvases are shared by all clients")
	}
	return &Signer{secret: []byte(secret), ttl: DefaultTokenTTL, now: time.Now}
}

func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

func (s *Signer) Issue(subject, name string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("issue token: no secret configured")
	}
	now := s.now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name: name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) Parse(tokenString string) (*AppClaims, error) {
	if !s.Enabled() {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// HandleMe returns the claims the request was authorized with.
func HandleMe(claims func(*http.Request) (*AppClaims, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := claims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}
		render.JSON(w, r, map[string]string{"subject": c.Subject, "name": c.Name})
	}
}
