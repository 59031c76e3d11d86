package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSigner_IssueAndParse(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.Issue("user-1", "Ada")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	claims, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Ada" {
		t.Errorf("got %+v", claims)
	}
}

func TestSigner_Disabled(t *testing.T) {
	s := NewSigner("")
	if s.Enabled() {
		t.Fatal("signer without secret is enabled")
	}
	if _, err := s.Issue("user-1", ""); err == nil {
		t.Error("Issue() succeeded without a secret")
	}
	if _, err := s.Parse("anything"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestSigner_WrongSecret(t *testing.T) {
	token, _ := NewSigner("one").Issue("user-1", "")
	if _, err := NewSigner("two").Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestSigner_Expired(t *testing.T) {
	s := NewSigner("secret")
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	token, err := s.Issue("user-1", "")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	s.now = func() time.Time { return issued.Add(DefaultTokenTTL + time.Minute) }
	if _, err := s.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestSigner_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	if _, err := NewSigner("secret").Parse(unsigned); err == nil {
		t.Error("Parse() accepted an unsigned token")
	}
}

func TestSigner_RequiresSubject(t *testing.T) {
	s := NewSigner("secret")
	token, _ := s.Issue("", "nobody")
	if _, err := s.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestHandleMe(t *testing.T) {
	claims := &AppClaims{Name: "Ada"}
	claims.Subject = "user-1"

	rec := httptest.NewRecorder()
	HandleMe(func(*http.Request) (*AppClaims, bool) { return claims, true })(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"subject":"user-1"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	HandleMe(func(*http.Request) (*AppClaims, bool) { return nil, false })(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
