package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/idgen"
	"github.com/npezzotti/go-messenger/internal/media"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

func newTestApp(t *testing.T, db database.MessengerRepository, resolver auth.SessionResolver) *MessengerApp {
	t.Helper()

	logger := testutil.TestLogger(t)
	ids, err := idgen.NewGenerator(1)
	require.NoError(t, err)

	cs, err := server.NewChatServer(logger, db, &media.MockStore{}, ids, stats.NopStats{}, server.Options{})
	require.NoError(t, err)

	return NewMessengerApp(http.NewServeMux(), logger, cs, db, resolver, ids, &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
}

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func testSession(userId int) auth.Session {
	return auth.Session{
		User:      types.User{Id: userId, Username: "alice", EmailAddress: "alice@example.com"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// authed attaches a resolved session to the request, as authMiddleware does.
func authed(req *http.Request, userId int) *http.Request {
	return req.WithContext(WithSession(req.Context(), testSession(userId), "tok"))
}

func withPathId(req *http.Request, id string) *http.Request {
	req.SetPathValue("id", id)
	return req
}

