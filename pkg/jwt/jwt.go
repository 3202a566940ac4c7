// Package jwt проверяет RS256 access токены покупателей. Токены выпускает
// сервис пользователей; здесь нужен только публичный ключ.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken — подпись, срок действия или claims не прошли проверку.
	ErrInvalidToken = errors.New("невалидный токен")
	// ErrTokenRevoked — токен отозван через blacklist.
	ErrTokenRevoked = errors.New("токен отозван")
)

// Claims содержит данные access токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Owner возвращает идентификатор покупателя: user_id, иначе sub.
func (c *Claims) Owner() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Config — параметры Validator.
type Config struct {
	PublicKeyPath string
	Issuer        string
}

// Validator проверяет подпись, издателя и срок действия токена,
// а при наличии blacklist ещё и отзыв.
type Validator struct {
	publicKey *rsa.PublicKey
	issuer    string
	blacklist *Blacklist
}

// NewValidator загружает публичный ключ и создаёт Validator.
func NewValidator(cfg Config) (*Validator, error) {
	key, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewValidatorWithKey(key, cfg.Issuer), nil
}

// NewValidatorWithKey создаёт Validator с уже загруженным ключом.
func NewValidatorWithKey(key *rsa.PublicKey, issuer string) *Validator {
	return &Validator{publicKey: key, issuer: issuer}
}

// SetBlacklist включает проверку отозванных токенов.
func (v *Validator) SetBlacklist(bl *Blacklist) {
	v.blacklist = bl
}

// Validate проверяет токен и возвращает claims.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Owner() == "" {
		return nil, ErrInvalidToken
	}

	if v.blacklist == nil {
		return claims, nil
	}

	if claims.ID != "" {
		revoked, err := v.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	if claims.IssuedAt != nil {
		invalidated, err := v.blacklist.IsUserInvalidated(ctx, claims.Owner(), claims.IssuedAt.Time)
		if err != nil {
			return nil, err
		}
		if invalidated {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// LoadPublicKey читает RSA публичный ключ из PEM (PKIX или PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return ParsePublicKeyPEM(data)
}

// ParsePublicKeyPEM разбирает RSA публичный ключ из PEM.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("не удалось декодировать PEM блок")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
