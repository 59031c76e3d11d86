package middleware

import (
	"canvas-studio/handlers/auth"
	"net/http"
	"net/http/httptest"
	"testing"
)

func subjectHandler(t *testing.T, got *string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := Claims(r)
		if !ok {
			t.Error("claims missing from context")
			return
		}
		*got = claims.Subject
	})
}

func TestAuthJWT_Disabled(t *testing.T) {
	var subject string
	h := AuthJWT(auth.NewSigner(""))(subjectHandler(t, &subject))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rec.Code, http.StatusOK)
	}
	if subject != auth.LocalSubject {
		t.Errorf("got subject %q, want %q", subject, auth.LocalSubject)
	}
}

func TestAuthJWT_ValidToken(t *testing.T) {
	signer := auth.NewSigner("secret")
	token, err := signer.Issue("user-7", "")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	var subject string
	h := AuthJWT(signer)(subjectHandler(t, &subject))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || subject != "user-7" {
		t.Errorf("got %d subject %q", rec.Code, subject)
	}
}

func TestAuthJWT_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"too many parts", "Bearer a b"},
		{"bad token", "Bearer not-a-token"},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler called")
	})
	h := AuthJWT(auth.NewSigner("secret"))(next)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("got %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}
