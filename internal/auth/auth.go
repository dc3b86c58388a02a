package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-messenger/internal/cache"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	TokenCookieKey = "token"

	userIdClaim = "user-id"
	expClaim    = "exp"

	accountCacheTTL = 30 * time.Second
)

var (
	ErrInvalidToken      = errors.New("invalid session token")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountRestricted = errors.New("account restricted")
)

// Session is an authenticated account bound to a credential.
type Session struct {
	User      types.User
	ExpiresAt time.Time
}

// SessionResolver turns a session credential into the account it represents.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (Session, error)
}

type AccountStore interface {
	GetAccountById(ctx context.Context, accountId int) (database.Account, error)
}

func CreateToken(signingKey []byte, userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}

// ParseToken verifies the signature and expiry of tokenString and returns
// the user id and expiry it carries.
func ParseToken(signingKey []byte, tokenString string) (int, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, time.Time{}, ErrInvalidToken
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: missing user id claim", ErrInvalidToken)
	}

	exp, ok := claims[expClaim].(float64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}

	return int(userId), time.Unix(int64(exp), 0), nil
}

// JWTResolver resolves signed session tokens. Accounts are looked up through
// a short-lived cache so that reconnect storms do not hit the store.
type JWTResolver struct {
	signingKey []byte
	accounts   AccountStore
	cache      cache.Cache
}

var _ SessionResolver = (*JWTResolver)(nil)

func NewJWTResolver(signingKey []byte, accounts AccountStore, c cache.Cache) *JWTResolver {
	if c == nil {
		c = cache.NopCache{}
	}

	return &JWTResolver{
		signingKey: signingKey,
		accounts:   accounts,
		cache:      c,
	}
}

func (r *JWTResolver) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidToken
	}

	userId, exp, err := ParseToken(r.signingKey, token)
	if err != nil {
		return Session{}, err
	}

	account, err := r.account(ctx, userId)
	if err != nil {
		return Session{}, err
	}

	if account.IsRestricted {
		return Session{}, ErrAccountRestricted
	}

	return Session{
		User: types.User{
			Id:           account.Id,
			Username:     account.Username,
			EmailAddress: account.EmailAddress,
			ReadReceipts: account.ReadReceipts,
			CreatedAt:    account.CreatedAt,
			UpdatedAt:    account.UpdatedAt,
		},
		ExpiresAt: exp,
	}, nil
}

type cachedAccount struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email"`
	IsRestricted bool      `json:"is_restricted"`
	ReadReceipts bool      `json:"read_receipts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func accountCacheKey(userId int) string {
	return "session:account:" + strconv.Itoa(userId)
}

func (r *JWTResolver) account(ctx context.Context, userId int) (database.Account, error) {
	key := accountCacheKey(userId)

	if raw, err := r.cache.Get(ctx, key); err == nil {
		var ca cachedAccount
		if err := json.Unmarshal([]byte(raw), &ca); err == nil {
			return database.Account{
				Id:           ca.Id,
				Username:     ca.Username,
				EmailAddress: ca.EmailAddress,
				IsRestricted: ca.IsRestricted,
				ReadReceipts: ca.ReadReceipts,
				CreatedAt:    ca.CreatedAt,
				UpdatedAt:    ca.UpdatedAt,
			}, nil
		}
	}

	account, err := r.accounts.GetAccountById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Account{}, ErrAccountNotFound
		}
		return database.Account{}, fmt.Errorf("get account: %w", err)
	}

	raw, err := json.Marshal(cachedAccount{
		Id:           account.Id,
		Username:     account.Username,
		EmailAddress: account.EmailAddress,
		IsRestricted: account.IsRestricted,
		ReadReceipts: account.ReadReceipts,
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	})
	if err == nil {
		// best effort
		_ = r.cache.Set(ctx, key, string(raw), accountCacheTTL)
	}

	return account, nil
}
