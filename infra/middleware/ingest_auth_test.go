package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newGuardedApp(secret string) *fiber.App {
	app := fiber.New()
	app.Post("/run", AdminAuth(secret), func(c *fiber.Ctx) error {
		return c.SendStatus(202)
	})
	return app
}

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestAdminAuth(t *testing.T) {
	app := newGuardedApp(testSecret)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "valid admin token",
			authHeader: "Bearer " + mintToken(t, testSecret, jwt.MapClaims{"admin": true, "sub": "ops", "exp": float64(time.Now().Add(time.Hour).Unix())}),
			wantStatus: 202,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: 401,
		},
		{
			name:       "wrong secret",
			authHeader: "Bearer " + mintToken(t, "other-secret", jwt.MapClaims{"admin": true}),
			wantStatus: 401,
		},
		{
			name:       "non-admin token",
			authHeader: "Bearer " + mintToken(t, testSecret, jwt.MapClaims{"admin": false, "sub": "reader"}),
			wantStatus: 403,
		},
		{
			name:       "admin claim absent",
			authHeader: "Bearer " + mintToken(t, testSecret, jwt.MapClaims{"sub": "reader"}),
			wantStatus: 403,
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + mintToken(t, testSecret, jwt.MapClaims{"admin": true, "exp": float64(time.Now().Add(-time.Hour).Unix())}),
			wantStatus: 401,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not-a-jwt",
			wantStatus: 401,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/run", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAdminAuth_NoSecretConfigured(t *testing.T) {
	app := newGuardedApp("")

	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, jwt.MapClaims{"admin": true}))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503 when no secret configured", resp.StatusCode)
	}
}
