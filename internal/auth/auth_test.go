package auth

import (
	"errors"
	"testing"
	"time"

	"watchpost/internal/config"
)

func TestAuthenticate(t *testing.T) {
	hashed, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password string // configured
		user     string
		attempt  string
		wantErr  error
	}{
		{"plain password", "hunter2", "admin", "hunter2", nil},
		{"hashed password", hashed, "admin", "hunter2", nil},
		{"wrong password", "hunter2", "admin", "hunter3", ErrInvalidCredentials},
		{"wrong user", "hunter2", "root", "hunter2", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAuthenticator(config.AuthConfig{Enabled: true, Username: "admin", Password: tt.password, JWTSecret: "s3cret", JWTExpiry: time.Hour})
			if err != nil {
				t.Fatal(err)
			}
			token, exp, err := a.Authenticate(tt.user, tt.attempt)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if time.Until(exp) <= 0 || time.Until(exp) > time.Hour {
				t.Errorf("expiry = %v", exp)
			}
			claims, err := a.ValidateToken(token)
			if err != nil || claims.Username != "admin" {
				t.Errorf("ValidateToken = %+v, %v", claims, err)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	a, err := NewAuthenticator(config.AuthConfig{Username: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if a.IsEnabled() {
		t.Fatal("auth should be disabled")
	}
	if _, _, err := a.Authenticate("admin", ""); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("err = %v, want ErrAuthDisabled", err)
	}
}

func TestValidateToken(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, _, err := m.GenerateToken("admin")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewJWTManager("other", time.Hour).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign secret err = %v, want ErrInvalidToken", err)
	}
	if _, err := m.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage err = %v, want ErrInvalidToken", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired err = %v, want ErrExpiredToken", err)
	}
}
