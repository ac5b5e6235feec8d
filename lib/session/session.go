package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"newrock-catalog/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/session")

var (
	ErrMissingCredentials = errors.New("session: no username/password and no pre-obtained cookie configured")
	ErrLoginFailed        = errors.New("session: failed to login with the configured credentials")
	ErrLoginLayout        = errors.New("session: could not locate the login form, the site layout may have changed")
)

const (
	defaultLoginPath   = "/en/login?back=my-account"
	defaultAccountPath = "/en/my-account"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

type Options struct {
	BaseUrl  string
	Username string
	Password string

	// a pre-obtained session cookie ("name=value"), used instead of the
	// interactive login flow
	Cookie string

	// file holding serialized cookies from a previous run
	StateFile string

	// cookie names (or prefixes, when ending in '*') that identify an
	// authenticated session
	RequiredCookies []string
}

// Store owns one authenticated browsing session. It is shared by reference
// with every fetcher; cookies are session-wide.
type Store struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts Options
	jar  http.CookieJar

	// full Set-Cookie attributes observed on responses, keyed by cookie
	// name. the jar strips expiry information, so expiry checks read from
	// here.
	mu   sync.Mutex
	seen map[string]stateCookie
}

type stateCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires"`
}

type persistedState struct {
	Cookies []stateCookie `json:"cookies"`
}

func New(opts Options) (*Store, error) {
	if opts.Username == "" || opts.Password == "" {
		if opts.Cookie == "" {
			return nil, ErrMissingCredentials
		}
	}
	if len(opts.RequiredCookies) == 0 {
		opts.RequiredCookies = []string{"PrestaShop-*"}
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "session/http")

	s := &Store{
		BaseUrl: baseUrl,
		Http:    client,
		opts:    opts,
		jar:     jar,
		seen:    map[string]stateCookie{},
	}
	client.OnAfterResponse(s.recordCookies)
	return s, nil
}

// recordCookies keeps the full Set-Cookie attributes the jar throws away.
// The redirect chain is walked too, since login endpoints usually set their
// cookies on the 302 rather than on the final page.
func (s *Store) recordCookies(_ *resty.Client, res *resty.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for raw := res.RawResponse; raw != nil; {
		for _, c := range raw.Cookies() {
			s.seen[c.Name] = stateCookie{
				Name:    c.Name,
				Value:   c.Value,
				Domain:  c.Domain,
				Path:    c.Path,
				Expires: c.Expires,
			}
		}
		if raw.Request == nil {
			break
		}
		raw = raw.Request.Response
	}
	return nil
}

// EnsureAuthenticated makes the session request-capable. If persisted state
// carries the required session cookies and none of them has expired, no
// network activity happens at all. Otherwise it runs the interactive login
// flow and persists the resulting state for future runs.
func (s *Store) EnsureAuthenticated(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "store:EnsureAuthenticated")
	defer span.End()

	if s.opts.Cookie != "" {
		err := s.injectCookie()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to inject configured cookie")
			return err
		}
		return s.SaveState()
	}

	err := s.loadState()
	if err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load persisted session state")
		return err
	}
	if err == nil && s.hasValidSessionCookies(time.Now()) {
		span.SetStatus(codes.Ok, "SESSION RESTORED")
		return nil
	}

	err = s.login(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login flow failed")
		return err
	}

	return s.SaveState()
}

func (s *Store) injectCookie() error {
	name, value, ok := strings.Cut(s.opts.Cookie, "=")
	if !ok {
		return fmt.Errorf("session: malformed cookie %q, expected name=value", s.opts.Cookie)
	}
	s.jar.SetCookies(s.BaseUrl, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
	s.mu.Lock()
	s.seen[name] = stateCookie{Name: name, Value: value, Path: "/"}
	s.mu.Unlock()
	return nil
}

func (s *Store) login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "store:login")
	defer span.End()

	res, err := s.Http.R().
		SetContext(ctx).
		Get(defaultLoginPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	// an already-authenticated session is silently redirected to the
	// account page, in which case there is no form to fill
	if strings.HasPrefix(res.RawResponse.Request.URL.Path, defaultAccountPath) {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	emailInput := doc.Find(`input[name="email"][type="email"]`).First()
	if emailInput.Length() == 0 {
		return ErrLoginLayout
	}
	form := emailInput.Closest("form")
	if form.Length() == 0 {
		return ErrLoginLayout
	}

	fields := map[string]string{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name != "" {
			fields[name] = input.AttrOr("value", "")
		}
	})
	fields["email"] = s.opts.Username
	fields["password"] = s.opts.Password
	fields["submitLogin"] = "1"

	action := form.AttrOr("action", defaultLoginPath)

	res, err = s.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(action)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	// a successful login lands on the account page; anything else (error
	// banner, re-rendered form) means the credentials were rejected
	res, err = s.Http.R().
		SetContext(ctx).
		Get(defaultAccountPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	final := res.RawResponse.Request.URL.Path
	if !strings.HasPrefix(final, defaultAccountPath) {
		return ErrLoginFailed
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if doc.Find(`input[name="email"][type="email"]`).Length() > 0 {
		return ErrLoginFailed
	}

	return nil
}

func matchesCookieName(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// hasValidSessionCookies reports whether every required session cookie is
// present in the jar and unexpired. A zero expiry is the browser-session
// sentinel and is treated as always valid.
func (s *Store) hasValidSessionCookies(now time.Time) bool {
	cookies := s.jar.Cookies(s.BaseUrl)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pattern := range s.opts.RequiredCookies {
		found := false
		for _, c := range cookies {
			if !matchesCookieName(pattern, c.Name) {
				continue
			}
			recorded, known := s.seen[c.Name]
			if known && !recorded.Expires.IsZero() && !recorded.Expires.After(now) {
				continue
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) loadState() error {
	if s.opts.StateFile == "" {
		return os.ErrNotExist
	}
	contents, err := os.ReadFile(s.opts.StateFile)
	if err != nil {
		return err
	}

	var state persistedState
	err = json.Unmarshal(contents, &state)
	if err != nil {
		return err
	}

	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	s.mu.Lock()
	for _, c := range state.Cookies {
		s.seen[c.Name] = c
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	s.mu.Unlock()

	s.jar.SetCookies(s.BaseUrl, cookies)
	return nil
}

// SaveState persists the session's cookies so a future run can skip the
// login flow entirely.
func (s *Store) SaveState() error {
	if s.opts.StateFile == "" {
		return nil
	}

	s.mu.Lock()
	state := persistedState{}
	recorded := map[string]bool{}
	for _, c := range s.seen {
		state.Cookies = append(state.Cookies, c)
		recorded[c.Name] = true
	}
	s.mu.Unlock()

	// jar cookies we never saw a Set-Cookie for are persisted without an
	// expiry, which reads back as the always-valid sentinel
	for _, c := range s.jar.Cookies(s.BaseUrl) {
		if !recorded[c.Name] {
			state.Cookies = append(state.Cookies, stateCookie{
				Name:  c.Name,
				Value: c.Value,
				Path:  "/",
			})
		}
	}

	contents, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(s.opts.StateFile, contents, 0600)
}

// Close persists session state and releases the underlying transport.
func (s *Store) Close() error {
	err := s.SaveState()
	s.Http.GetClient().CloseIdleConnections()
	return err
}
