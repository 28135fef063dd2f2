package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-32bytes-long!!")

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestIssueAndValidate(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("ha-automation", RoleOperator)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "ha-automation" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q", claims.Role)
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
	}
	if claims.ID == "" {
		t.Error("expected a token ID")
	}
	if claims.ExpiresAt == nil {
		t.Error("expected an expiry")
	}
}

func TestNewTokenService_EmptySecret(t *testing.T) {
	if _, err := NewTokenService(nil, time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("err = %v, want ErrNoSecret", err)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	other, err := NewTokenService([]byte("secret-two-is-32-bytes-long!!!!"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, err := other.Issue("x", RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestTokenService(t).Validate(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestValidate_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	ts.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := ts.Issue("x", RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	ts.now = time.Now
	if _, err := ts.Validate(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestIssue_ZeroTTLNeverExpires(t *testing.T) {
	ts, err := NewTokenService(testSecret, 0)
	if err != nil {
		t.Fatal(err)
	}
	token, err := ts.Issue("x", RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ts.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want none", claims.ExpiresAt)
	}
}

func TestValidate_RejectsForeignClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.Claims
		method jwt.SigningMethod
	}{
		{
			name:   "wrong issuer",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}, Role: RoleOperator},
			method: jwt.SigningMethodHS256,
		},
		{
			name:   "unknown role",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer}, Role: "admin"},
			method: jwt.SigningMethodHS256,
		},
		{
			name:   "other algorithm",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer}, Role: RoleOperator},
			method: jwt.SigningMethodHS512,
		},
	}
	ts := newTestTokenService(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString(testSecret)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := ts.Validate(token); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"operator", RoleOperator, false},
		{"viewer", RoleViewer, false},
		{"admin", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRole(%q) = %q, %v", tt.in, got, err)
		}
	}
}
