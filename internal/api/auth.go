package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const defaultJwtExpiration = 24 * time.Hour

type contextKey string

const (
	sessionKey contextKey = "session"
	tokenKey   contextKey = "token"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func WithSession(ctx context.Context, session auth.Session, token string) context.Context {
	ctx = context.WithValue(ctx, sessionKey, session)
	return context.WithValue(ctx, tokenKey, token)
}

func SessionFrom(ctx context.Context) (auth.Session, bool) {
	session, ok := ctx.Value(sessionKey).(auth.Session)
	return session, ok
}

func UserId(ctx context.Context) (int, bool) {
	session, ok := SessionFrom(ctx)
	if !ok || session.User.Id == 0 {
		return 0, false
	}

	return session.User.Id, true
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func (s *MessengerApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(account.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if account.IsRestricted {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := auth.CreateToken(s.signingKey, account.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, toUser(account))
}

func (s *MessengerApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *MessengerApp) session(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, session.User)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     auth.TokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func toUser(a database.Account) types.User {
	return types.User{
		Id:           a.Id,
		Username:     a.Username,
		EmailAddress: a.EmailAddress,
		ReadReceipts: a.ReadReceipts,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
