package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Auth is one valid authorization handshake result: the token plus the
// account-specific base URLs every subsequent call must target.
type Auth struct {
	Token       string
	APIURL      string
	DownloadURL string
	AccountID   string
}

// Session owns the store authorization token. It authorizes lazily on first
// use, hands the cached result to every caller, and re-authorizes only after
// Invalidate. The token carries no known TTL; expiry is detected reactively
// when the store rejects it.
type Session struct {
	authURL string
	keyID   string
	appKey  string
	httpc   *http.Client

	mu     sync.Mutex
	cached *Auth
}

// NewSession creates a session for the given authorize endpoint and key pair.
func NewSession(authURL, keyID, appKey string, httpc *http.Client) *Session {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Session{authURL: authURL, keyID: keyID, appKey: appKey, httpc: httpc}
}

// Auth returns the cached authorization, performing the handshake if none is
// cached. The lock is held across the handshake so that N concurrent callers
// with a cold cache produce exactly one authorize request; the rest wait and
// receive the same result.
func (s *Session) Auth(ctx context.Context) (Auth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return *s.cached, nil
	}

	a, err := s.authorize(ctx)
	if err != nil {
		return Auth{}, err
	}
	s.cached = &a
	return a, nil
}

// Invalidate drops the cached authorization, forcing the next Auth call to
// re-authorize. Called by the client when the store rejects the token.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// authorize performs the basic-auth handshake against the store's account
// authorization endpoint. Caller holds s.mu.
func (s *Session) authorize(ctx context.Context) (Auth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.authURL+"/b2api/v2/b2_authorize_account", nil)
	if err != nil {
		return Auth{}, fmt.Errorf("build authorize request: %w", err)
	}
	req.SetBasicAuth(s.keyID, s.appKey)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return Auth{}, fmt.Errorf("%w: authorize: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Auth{}, fmt.Errorf("%w: authorize returned %s", ErrAuth, resp.Status)
	}

	var body struct {
		AccountID          string `json:"accountId"`
		AuthorizationToken string `json:"authorizationToken"`
		APIURL             string `json:"apiUrl"`
		DownloadURL        string `json:"downloadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Auth{}, fmt.Errorf("%w: decode authorize response: %v", ErrAuth, err)
	}
	if body.AuthorizationToken == "" || body.APIURL == "" {
		return Auth{}, fmt.Errorf("%w: authorize response missing token or api url", ErrAuth)
	}

	return Auth{
		Token:       body.AuthorizationToken,
		APIURL:      body.APIURL,
		DownloadURL: body.DownloadURL,
		AccountID:   body.AccountID,
	}, nil
}
