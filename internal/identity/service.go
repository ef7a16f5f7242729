// Package identity implements the account provider: account creation,
// sign-in, token validation, and sign-out with token revocation.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/emberchat/emberd/internal/convo"
	"github.com/emberchat/emberd/internal/docstore"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const revokedPrefix = "revoked:"

// Account is the handle for a signed-in user.
type Account struct {
	Key   string
	Email string
}

// Store is the document tree slice the provider persists accounts in.
type Store interface {
	ReadOnce(ctx context.Context, path string) (json.RawMessage, bool, error)
	Update(ctx context.Context, path string, fn docstore.UpdateFunc) error
}

// Service issues and validates access tokens for accounts stored in the
// document tree. Revoked token ids live in Redis with a TTL equal to the
// token's remaining validity.
type Service struct {
	store  Store
	rdb    *redis.Client
	secret []byte
	ttl    time.Duration
}

// NewService creates an identity provider.
func NewService(store Store, rdb *redis.Client, secret string, ttl time.Duration) *Service {
	return &Service{store: store, rdb: rdb, secret: []byte(secret), ttl: ttl}
}

type accountDoc struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

func accountPath(key string) string { return "accounts/" + key }

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// CreateAccount registers a new account for the email address. The account
// record is keyed by the normalized key, like every other user-scoped node.
// The existence check and the write share one conditional-write cycle, so of
// two racing registrations exactly one wins and the other gets
// ErrAccountExists.
func (s *Service) CreateAccount(ctx context.Context, email, password string) (Account, error) {
	key := convo.NormalizeKey(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	doc, err := json.Marshal(accountDoc{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		return Account{}, err
	}

	err = s.store.Update(ctx, accountPath(key), func(_ json.RawMessage, exists bool) (json.RawMessage, error) {
		if exists {
			return nil, ErrAccountExists
		}
		return doc, nil
	})
	if errors.Is(err, ErrAccountExists) {
		return Account{}, err
	}
	if err != nil {
		return Account{}, fmt.Errorf("write account: %w", err)
	}
	return Account{Key: key, Email: email}, nil
}

// SignIn verifies the password and returns a signed access token.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, Account, error) {
	key := convo.NormalizeKey(email)

	raw, exists, err := s.store.ReadOnce(ctx, accountPath(key))
	if err != nil {
		return "", Account{}, err
	}
	if !exists {
		return "", Account{}, ErrInvalidCredentials
	}
	var doc accountDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", Account{}, fmt.Errorf("decode account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(password)) != nil {
		return "", Account{}, ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: doc.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   key,
			Issuer:    "emberd",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Account{}, err
	}
	return signed, Account{Key: key, Email: doc.Email}, nil
}

// CurrentAccount validates a token and returns the account it identifies.
// Revoked and expired tokens fail with ErrInvalidToken.
func (s *Service) CurrentAccount(ctx context.Context, tokenString string) (Account, error) {
	c, err := s.parse(tokenString)
	if err != nil {
		return Account{}, err
	}
	revoked, err := s.rdb.Exists(ctx, revokedPrefix+c.ID).Result()
	if err != nil {
		return Account{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked > 0 {
		return Account{}, ErrInvalidToken
	}
	return Account{Key: c.Subject, Email: c.Email}, nil
}

// SignOut revokes the token for its remaining validity. Already-invalid
// tokens are a no-op.
func (s *Service) SignOut(ctx context.Context, tokenString string) error {
	c, err := s.parse(tokenString)
	if err != nil {
		return nil
	}
	remaining := time.Until(c.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedPrefix+c.ID, "1", remaining).Err()
}

func (s *Service) parse(tokenString string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}
