// Package auth implements spec component C: the OAuth2 authorization-code
// (with PKCE where the adapter supports it) and refresh-token state machine,
// built the way rolledback-pwsafe-service's onedrive provider drives its own
// token lifecycle, generalized here into one machine reusable by every
// adapter and coalesced across concurrent callers with singleflight.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/internal/localserver"
	"github.com/rolledback/cloudkit/internal/xlog"
)

// State names the machine's current position in the exchange/refresh cycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingCode
	StateExchanging
	StateAuthenticated
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateExchanging:
		return "exchanging"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConsentResult is delivered by the adapter's AuthorizeLibraryURL page once
// the resource owner grants or denies access.
type ConsentResult struct {
	Code  string
	Error string
}

// Callback is invoked once the machine reaches a terminal state for a
// pending ExchangeCode or Reauthorize call, letting the owning facade
// persist the refreshed Token (spec.md's auth_callback hint).
type Callback func(tok cloud.Token, err error)

const refreshKey = "refresh"

// Machine drives one provider instance's auth lifecycle. It implements
// localserver.AuthHandler so a *Machine can be registered directly on the
// loopback server under its own state string.
type Machine struct {
	adapter cloud.Adapter
	http    *httpengine.Engine
	onToken Callback

	group singleflight.Group

	mu     sync.Mutex
	state  State
	token  cloud.Token
	err    error
	ready  chan struct{} // closed when a terminal state (Authenticated/Failed) is reached
	verifier string       // PKCE code verifier for the in-flight exchange
}

// New builds a Machine for adapter, using eng for the code-exchange and
// refresh HTTP calls. If tok carries an access token it seeds the machine
// already authenticated (a persisted token from a prior run); a token with
// only a refresh token is kept, and the first EnsureAuthenticated refreshes
// it.
func New(adapter cloud.Adapter, eng *httpengine.Engine, tok cloud.Token, onToken Callback) *Machine {
	m := &Machine{
		adapter: adapter,
		http:    eng,
		onToken: onToken,
		ready:   make(chan struct{}),
	}
	if tok.AccessToken != "" {
		m.state = StateAuthenticated
		m.token = tok
		close(m.ready)
	} else {
		m.state = StateUnauthenticated
		m.token = tok
	}
	return m
}

// Token returns the current credential pair and whether the machine is in
// the Authenticated state.
func (m *Machine) Token() (cloud.Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.state == StateAuthenticated
}

// State reports the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureAuthenticated blocks until the machine reaches a terminal state,
// refreshing first if the current token is expired. It never initiates the
// authorization-code leg itself — that begins only when the resource owner
// visits AuthorizeLibraryURL and is redirected back to HandleRedirect.
func (m *Machine) EnsureAuthenticated(ctx context.Context) (string, error) {
	m.mu.Lock()
	state, tok := m.state, m.token
	ready := m.ready
	m.mu.Unlock()

	switch state {
	case StateAuthenticated:
		if !tok.Expired() {
			return tok.AccessToken, nil
		}
		return m.Reauthorize(ctx)
	case StateUnauthenticated:
		if tok.RefreshToken != "" {
			return m.Reauthorize(ctx)
		}
		return "", cloud.NewError(cloud.CodeFailure, "not authorized: visit AuthorizeLibraryURL first", nil)
	case StateFailed:
		m.mu.Lock()
		err := m.err
		m.mu.Unlock()
		return "", err
	default:
		select {
		case <-ready:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return m.EnsureAuthenticated(ctx)
	}
}

// AccessToken returns the current access token without blocking or
// refreshing, for callers that only need a best-effort snapshot.
func (m *Machine) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token.AccessToken
}

// Reauthorize refreshes the access token, coalescing concurrent callers
// (spec invariant: exactly one refresh HTTP exchange per expiry, regardless
// of how many in-flight requests observe a 401 simultaneously).
func (m *Machine) Reauthorize(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do(refreshKey, func() (interface{}, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Machine) doRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	refreshToken := m.token.RefreshToken
	m.state = StateRefreshing
	m.mu.Unlock()

	if refreshToken == "" {
		err := cloud.NewError(cloud.CodeFailure, "no refresh token available", nil)
		m.transitionTerminal(cloud.Token{}, err)
		return "", err
	}

	req, err := m.adapter.BuildRefreshToken(ctx, refreshToken)
	if err != nil {
		m.transitionTerminal(cloud.Token{}, err)
		return "", err
	}

	res, err := m.http.Do(ctx, httpengine.Exchange{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header,
		Body:   req.Body,
	})
	if err != nil {
		m.transitionTerminal(cloud.Token{}, err)
		return "", err
	}
	defer res.Body.Close()

	if !res.IsSuccess() {
		err := cloud.NewError(res.StatusCode, "refresh_token exchange failed", nil)
		m.transitionTerminal(cloud.Token{}, err)
		return "", err
	}

	httpResp := &http.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body, Request: req}
	tok, err := m.adapter.ParseRefreshToken(httpResp)
	if err != nil {
		m.transitionTerminal(cloud.Token{}, err)
		return "", err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	m.transitionTerminal(*tok, nil)
	return tok.AccessToken, nil
}

// transitionTerminal moves the machine to Authenticated or Failed, wakes
// every goroutine blocked in EnsureAuthenticated, and invokes the callback.
func (m *Machine) transitionTerminal(tok cloud.Token, err error) {
	m.mu.Lock()
	if err != nil {
		m.state = StateFailed
		m.err = err
	} else {
		m.state = StateAuthenticated
		m.token = tok
		m.err = nil
	}
	old := m.ready
	m.ready = make(chan struct{})
	m.mu.Unlock()
	close(old)

	if m.onToken != nil {
		m.onToken(tok, err)
	}
}

// newPKCEVerifier returns a random URL-safe code verifier, the way OAuth2
// PKCE clients generate one per authorization attempt.
func newPKCEVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthorizeURL returns the URL the resource owner should visit to begin the
// authorization-code flow, with state bound to this machine's registration
// on the loopback server.
func (m *Machine) AuthorizeURL(state, redirectURI string) (string, error) {
	verifier, err := newPKCEVerifier()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.verifier = verifier
	m.state = StateAwaitingCode
	m.mu.Unlock()

	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	base := m.adapter.AuthorizeLibraryURL()
	sep := "?"
	if containsQuery(base) {
		sep = "&"
	}
	return fmt.Sprintf("%s%sredirect_uri=%s&state=%s&code_challenge=%s&code_challenge_method=S256",
		base, sep, redirectURI, state, challenge), nil
}

func containsQuery(u string) bool {
	for _, c := range u {
		if c == '?' {
			return true
		}
	}
	return false
}

// HandleRedirect implements localserver.AuthHandler: the OAuth2 provider
// redirects the user's browser here with either ?code= or ?error=.
func (m *Machine) HandleRedirect(w http.ResponseWriter, r *http.Request, code, errorParam string) {
	if errorParam != "" {
		m.transitionTerminal(cloud.Token{}, cloud.NewError(cloud.CodeFailure, "authorization denied: "+errorParam, nil))
		http.Error(w, "authorization denied", http.StatusOK)
		return
	}
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.state = StateExchanging
	verifier := m.verifier
	m.mu.Unlock()

	ctx := r.Context()
	req, err := m.adapter.BuildExchangeCode(ctx, code, verifier)
	if err != nil {
		m.transitionTerminal(cloud.Token{}, err)
		http.Error(w, "exchange failed", http.StatusBadGateway)
		return
	}

	res, err := m.http.Do(ctx, httpengine.Exchange{Method: req.Method, URL: req.URL.String(), Header: req.Header, Body: req.Body})
	if err != nil {
		m.transitionTerminal(cloud.Token{}, err)
		http.Error(w, "exchange failed", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	if !res.IsSuccess() {
		err := cloud.NewError(res.StatusCode, "code exchange failed", nil)
		m.transitionTerminal(cloud.Token{}, err)
		http.Error(w, "exchange failed", http.StatusBadGateway)
		return
	}

	httpResp := &http.Response{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body, Request: req}
	tok, err := m.adapter.ParseExchangeCode(httpResp)
	if err != nil {
		m.transitionTerminal(cloud.Token{}, err)
		http.Error(w, "exchange failed", http.StatusBadGateway)
		return
	}

	m.transitionTerminal(*tok, nil)
	xlog.L().Info().Str("adapter", m.adapter.Name()).Msg("auth: authorized")
	fmt.Fprint(w, "<html><body>Authorized. You may close this window.</body></html>")
}

// LoginPage implements localserver.AuthHandler for credential-string
// providers: a minimal HTML form posting back to the same URL.
func (m *Machine) LoginPage(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body><form method="POST" action="/login?state=%s">
<input name="username" placeholder="username"><input name="password" type="password" placeholder="password">
<button type="submit">Sign in</button></form></body></html>`, html.EscapeString(state))
}

// HandleLoginPost implements localserver.AuthHandler for credential-string
// providers (spec.md §4.E's CredentialAuthorizer pattern): it synthesizes a
// "code" from the posted username/password and feeds it through the normal
// exchange path, so the rest of the state machine is unaware of the
// distinction.
func (m *Machine) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	ca, ok := m.adapter.(cloud.CredentialAuthorizer)
	if !ok {
		http.Error(w, "adapter does not support credential login", http.StatusNotImplemented)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	code := ca.SynthesizeCode(r.FormValue("username"), r.FormValue("password"))
	m.HandleRedirect(w, r, code, "")
}

var _ localserver.AuthHandler = (*Machine)(nil)

// MarshalToken/UnmarshalToken let callers persist a Token to disk between
// process runs (e.g. JSON, matching the teacher's .tokens.json convention).
func MarshalToken(tok cloud.Token) ([]byte, error) { return json.Marshal(tok) }

func UnmarshalToken(b []byte) (cloud.Token, error) {
	var tok cloud.Token
	err := json.Unmarshal(b, &tok)
	return tok, err
}
