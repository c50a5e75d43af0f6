package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	want := Session{UserID: uuid.New(), OrganizationID: uuid.New(), Role: "manager"}

	token, err := issuer.Issue(want)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != want {
		t.Errorf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParseRejects(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	s := Session{UserID: uuid.New(), OrganizationID: uuid.New(), Role: "user"}

	otherKey, _ := NewIssuer("other", time.Hour).Issue(s)
	expired, _ := NewIssuer("secret", time.Nanosecond).Issue(s)
	time.Sleep(2 * time.Millisecond)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: s.UserID.String(), Issuer: "stratus"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OrganizationID: s.OrganizationID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    "stratus",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"wrong key", otherKey},
		{"expired", expired},
		{"alg none", none},
		{"bad subject", badSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestFromRequest(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, _ := issuer.Issue(Session{UserID: uuid.New(), OrganizationID: uuid.New(), Role: "admin"})

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"valid", "Bearer " + token, nil},
		{"lowercase scheme", "bearer " + token, nil},
		{"missing", "", ErrMissingToken},
		{"basic auth", "Basic dXNlcjpwYXNz", ErrMissingToken},
		{"empty token", "Bearer ", ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			_, err := issuer.FromRequest(r)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FromRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context reported a session")
	}

	s := Session{UserID: uuid.New(), OrganizationID: uuid.New(), Role: "user"}
	got, ok := FromContext(WithSession(context.Background(), s))
	if !ok || got != s {
		t.Errorf("FromContext() = %+v, %v", got, ok)
	}
}
