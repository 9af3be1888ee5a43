package service

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/pmgate/internal/domain"
	"github.com/xela07ax/pmgate/internal/infra"
	"github.com/xela07ax/pmgate/internal/infra/auth"
)

// AuthService выпускает и проверяет RS256 токены операторов админки.
// Источник правды по пользователям — секция auth.users конфига: у шлюза
// нет внешнего хранилища, операторов единицы.
type AuthService struct {
	*auth.BaseValidator
	users      map[string]domain.ConsoleUser
	privateKey *rsa.PrivateKey
	tokenTTL   time.Duration
}

func NewAuthService(cfg infra.AuthConfig) (*AuthService, error) {
	pubKey, err := auth.ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	users := make(map[string]domain.ConsoleUser, len(cfg.Users))
	for _, u := range cfg.Users {
		scopes := make(map[string]bool, len(u.Scopes))
		for _, s := range u.Scopes {
			scopes[s] = true
		}
		users[u.Username] = domain.ConsoleUser{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Scopes:       scopes,
		}
	}

	return &AuthService{
		BaseValidator: auth.NewBaseValidator(pubKey),
		users:         users,
		privateKey:    privKey,
		tokenTTL:      cfg.TokenTTL,
	}, nil
}

func (s *AuthService) GenerateToken(username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация
	user, ok := s.users[username]
	if !ok {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &domain.CustomClaims{
		UserID: user.Username,
		Scopes: user.Scopes, // Напр. map[string]bool{"holds.decide": true}
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pmgate-console",
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
