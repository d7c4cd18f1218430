package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() JWTConfig {
	return DefaultJWTConfig("test-secret")
}

func TestIssueAndValidateOperatorToken(t *testing.T) {
	cfg := testJWTConfig()

	token, err := IssueOperatorToken("alice", cfg)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateOperatorToken(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "ordersaga", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestIssueOperatorTokenErrors(t *testing.T) {
	_, err := IssueOperatorToken("alice", JWTConfig{})
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = IssueOperatorToken("", testJWTConfig())
	assert.ErrorIs(t, err, ErrEmptyOperator)
}

func TestValidateOperatorTokenRejects(t *testing.T) {
	cfg := testJWTConfig()

	expiredCfg := cfg
	expiredCfg.TokenDuration = -time.Minute
	expired, err := IssueOperatorToken("alice", expiredCfg)
	require.NoError(t, err)

	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"
	foreign, err := IssueOperatorToken("alice", otherIssuer)
	require.NoError(t, err)

	otherSecret := cfg
	otherSecret.SecretKey = "other-secret"
	forged, err := IssueOperatorToken("alice", otherSecret)
	require.NoError(t, err)

	noOperator, err := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(cfg.SecretKey))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, OperatorClaims{
		Operator: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(cfg.SecretKey))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong issuer", foreign},
		{"wrong secret", forged},
		{"missing operator", noOperator},
		{"other algorithm", hs512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateOperatorToken(tt.token, cfg)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestOperatorAuthMiddleware(t *testing.T) {
	cfg := testJWTConfig()
	token, err := IssueOperatorToken("alice", cfg)
	require.NoError(t, err)

	var seen string
	protected := OperatorAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := OperatorFromContext(r.Context())
		require.True(t, ok)
		seen = claims.Operator
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid", "Bearer " + token, http.StatusNoContent, ""},
		{"missing header", "", http.StatusUnauthorized, "authorization header required"},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, "invalid authorization header format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid operator token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
	assert.Equal(t, "alice", seen)
}

func TestOperatorFromContextEmpty(t *testing.T) {
	_, ok := OperatorFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
