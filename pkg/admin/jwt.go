package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptySecret   = errors.New("admin: jwt secret cannot be empty")
	ErrEmptyOperator = errors.New("admin: operator cannot be empty")
	ErrInvalidToken  = errors.New("admin: invalid operator token")
)

const audience = "ordersaga-admin"

type JWTConfig struct {
	SecretKey     string
	TokenDuration time.Duration
	Issuer        string
}

func DefaultJWTConfig(secretKey string) JWTConfig {
	return JWTConfig{
		SecretKey:     secretKey,
		TokenDuration: time.Hour,
		Issuer:        "ordersaga",
	}
}

// OperatorClaims are the claims of a token allowed to call admin routes.
type OperatorClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

type operatorCtxKey struct{}

// IssueOperatorToken signs an HS256 token for operator.
func IssueOperatorToken(operator string, cfg JWTConfig) (string, error) {
	if cfg.SecretKey == "" {
		return "", ErrEmptySecret
	}
	if operator == "" {
		return "", ErrEmptyOperator
	}

	now := time.Now()
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   operator,
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SecretKey))
}

// ValidateOperatorToken checks signature, expiry, issuer and audience.
func ValidateOperatorToken(tokenString string, cfg JWTConfig) (*OperatorClaims, error) {
	if cfg.SecretKey == "" {
		return nil, ErrEmptySecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.SecretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Operator == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// OperatorAuthMiddleware rejects requests without a valid bearer operator
// token and stores the claims in the request context.
func OperatorAuthMiddleware(cfg JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := ValidateOperatorToken(strings.TrimPrefix(header, "Bearer "), cfg)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), operatorCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func OperatorFromContext(ctx context.Context) (*OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorCtxKey{}).(*OperatorClaims)
	return claims, ok
}

func generateTokenID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
