// Package identity отвечает за проверку токенов внешнего провайдера аутентификации.
package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken возвращается, если токен не прошёл проверку подписи или срока действия.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity описывает проверенную внешнюю личность ученика.
type Identity struct {
	Subject string
	Name    string
	Email   string
}

// Verifier проверяет токен и возвращает личность его владельца.
type Verifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*Identity, error)
}

func identityFromClaims(claims jwt.MapClaims) (*Identity, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidToken
	}

	id := &Identity{Subject: sub}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}

	return id, nil
}

// LocalVerifier проверяет токены, подписанные общим секретом (HS256).
// Используется в локальной разработке, когда внешний провайдер не настроен.
type LocalVerifier struct {
	secretKey []byte
}

// NewLocalVerifier создаёт проверяющего с указанным секретным ключом.
func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secretKey: []byte(secret)}
}

// VerifyToken проверяет подпись HS256 и возвращает личность из claims токена.
func (v *LocalVerifier) VerifyToken(_ context.Context, tokenString string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	return identityFromClaims(claims)
}
