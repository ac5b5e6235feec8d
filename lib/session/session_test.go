package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testUsername   = "user@example.com"
	testPassword   = "hunter2"
	testCookieName = "PrestaShop-abc123"
)

type fakeSite struct {
	server     *httptest.Server
	loginViews atomic.Int64
	logins     atomic.Int64
	cookieTTL  time.Duration
}

func (f *fakeSite) authed(r *http.Request) bool {
	c, err := r.Cookie(testCookieName)
	return err == nil && c.Value == "session-token"
}

func (f *fakeSite) setSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:    testCookieName,
		Value:   "session-token",
		Path:    "/",
		Expires: time.Now().Add(f.cookieTTL),
	})
}

func newFakeSite(t *testing.T) *fakeSite {
	f := &fakeSite{cookieTTL: time.Hour}

	mux := http.NewServeMux()
	mux.HandleFunc("/en/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.ParseForm()
			if r.FormValue("email") == testUsername &&
				r.FormValue("password") == testPassword &&
				r.FormValue("submitLogin") == "1" &&
				r.FormValue("token") == "csrf-token" {
				f.logins.Add(1)
				f.setSessionCookie(w)
				http.Redirect(w, r, "/en/my-account", http.StatusFound)
				return
			}
			// PrestaShop re-renders the form with an error banner
		}
		if f.authed(r) {
			http.Redirect(w, r, "/en/my-account", http.StatusFound)
			return
		}
		f.loginViews.Add(1)
		fmt.Fprint(w, `<html><body>
			<form action="/en/login" method="post">
				<input type="hidden" name="token" value="csrf-token">
				<input type="email" name="email">
				<input type="password" name="password">
				<button type="submit">Sign in</button>
			</form>
		</body></html>`)
	})
	mux.HandleFunc("/en/my-account", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			http.Redirect(w, r, "/en/login?back=my-account", http.StatusFound)
			return
		}
		f.setSessionCookie(w)
		fmt.Fprint(w, `<html><body><h1>Your account</h1></body></html>`)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func TestMissingCredentialsIsFatal(t *testing.T) {
	_, err := New(Options{BaseUrl: "https://www.newrock.com"})
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoginFlow(t *testing.T) {
	site := newFakeSite(t)

	store, err := New(Options{
		BaseUrl:   site.server.URL,
		Username:  testUsername,
		Password:  testPassword,
		StateFile: filepath.Join(t.TempDir(), "session-state.json"),
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, site.logins.Load())
	require.True(t, store.hasValidSessionCookies(time.Now()))
}

func TestBadCredentials(t *testing.T) {
	site := newFakeSite(t)

	store, err := New(Options{
		BaseUrl:  site.server.URL,
		Username: testUsername,
		Password: "wrong",
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestLoginFormLayoutChange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>We moved our login page!</p></body></html>`)
	}))
	defer server.Close()

	store, err := New(Options{
		BaseUrl:  server.URL,
		Username: testUsername,
		Password: testPassword,
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, ErrLoginLayout)
}

func TestStateReuseSkipsLogin(t *testing.T) {
	site := newFakeSite(t)
	stateFile := filepath.Join(t.TempDir(), "session-state.json")

	first, err := New(Options{
		BaseUrl:   site.server.URL,
		Username:  testUsername,
		Password:  testPassword,
		StateFile: stateFile,
	})
	require.NoError(t, err)

	err = first.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())
	require.EqualValues(t, 1, site.logins.Load())

	second, err := New(Options{
		BaseUrl:   site.server.URL,
		Username:  testUsername,
		Password:  testPassword,
		StateFile: stateFile,
	})
	require.NoError(t, err)
	defer second.Close()

	err = second.EnsureAuthenticated(context.Background())
	require.NoError(t, err)

	// restored from state, no extra login or even login page view
	require.EqualValues(t, 1, site.logins.Load())
	require.EqualValues(t, 1, site.loginViews.Load())
}

func TestExpiredStateForcesRelogin(t *testing.T) {
	site := newFakeSite(t)
	stateFile := filepath.Join(t.TempDir(), "session-state.json")

	first, err := New(Options{
		BaseUrl:   site.server.URL,
		Username:  testUsername,
		Password:  testPassword,
		StateFile: stateFile,
	})
	require.NoError(t, err)
	err = first.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	expireStateFile(t, stateFile)

	second, err := New(Options{
		BaseUrl:   site.server.URL,
		Username:  testUsername,
		Password:  testPassword,
		StateFile: stateFile,
	})
	require.NoError(t, err)
	defer second.Close()

	err = second.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, site.logins.Load())
}

// expireStateFile rewrites every cookie expiry in a persisted state file to
// the past, simulating a stale session from a much earlier run.
func expireStateFile(t *testing.T, path string) {
	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	var state persistedState
	require.NoError(t, json.Unmarshal(contents, &state))
	for i := range state.Cookies {
		state.Cookies[i].Expires = time.Now().Add(-time.Hour)
	}

	contents, err = json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, contents, 0600))
}

func TestPreObtainedCookieMode(t *testing.T) {
	site := newFakeSite(t)

	store, err := New(Options{
		BaseUrl: site.server.URL,
		Cookie:  testCookieName + "=session-token",
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, site.logins.Load())

	res, err := store.Http.R().Get("/en/my-account")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
}
