package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"parking-occupancy-service/internal/model"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims(role string) Claims {
	return Claims{
		OrgID: uuid.NewString(),
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestParse(t *testing.T) {
	parser := NewParser(testSecret)

	principal, err := parser.Parse(sign(t, jwt.SigningMethodHS256, testSecret, validClaims("parking_admin")))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if principal.Role != model.UserRoleParkingAdmin {
		t.Errorf("Role = %q, want %q", principal.Role, model.UserRoleParkingAdmin)
	}
	if !principal.IsAdmin() || !principal.CanManageSpots() {
		t.Error("admin principal should manage spots")
	}
}

func TestParseRejects(t *testing.T) {
	parser := NewParser(testSecret)

	expired := validClaims("VIEWER")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	badSubject := validClaims("VIEWER")
	badSubject.Subject = "user-1"

	tests := []struct {
		name  string
		token string
	}{
		{name: "wrong secret", token: sign(t, jwt.SigningMethodHS256, "other", validClaims("VIEWER"))},
		{name: "wrong algorithm", token: sign(t, jwt.SigningMethodHS512, testSecret, validClaims("VIEWER"))},
		{name: "expired", token: sign(t, jwt.SigningMethodHS256, testSecret, expired)},
		{name: "bad subject", token: sign(t, jwt.SigningMethodHS256, testSecret, badSubject)},
		{name: "unknown role", token: sign(t, jwt.SigningMethodHS256, testSecret, validClaims("DRIVER"))},
		{name: "garbage", token: "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parser.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
