package security

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrEmptySecret  = errors.New("jwt secret is empty")
)

// Разрешения API синхронизации
const (
	PermissionRunSync  = "sync:run"
	PermissionReadRuns = "sync:read"
)

// JWTManager выпускает и проверяет токены HS256
type JWTManager struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

type Claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
}

func NewJWTManager(secret string, expiration time.Duration, issuer string) (*JWTManager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if expiration <= 0 {
		expiration = time.Hour
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration, issuer: issuer}, nil
}

// Generate выпускает токен для subject с набором разрешений
func (m *JWTManager) Generate(subject string, permissions []string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   subject,
		},
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HasPermission проверяет разрешение; "*" дает все
func (c *Claims) HasPermission(permission string) bool {
	return slices.Contains(c.Permissions, permission) || slices.Contains(c.Permissions, "*")
}
