package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/cropwatch/internal/httputil"
	"github.com/banshee-data/cropwatch/internal/timeutil"
)

// refreshSkew renews tokens this long before they expire so that in-flight
// requests never carry a token about to lapse.
const refreshSkew = 5 * time.Minute

// Credentials are the OAuth2 client-credentials pair for the catalog.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// tokenSource caches a bearer token and refreshes it under a write lock when
// it nears expiry. Safe for concurrent use by the fetch workers.
type tokenSource struct {
	http    httputil.HTTPClient
	clock   timeutil.Clock
	authURL string
	creds   Credentials

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(h httputil.HTTPClient, clock timeutil.Clock, authURL string, creds Credentials) *tokenSource {
	return &tokenSource{http: h, clock: clock, authURL: authURL, creds: creds}
}

// Token returns a valid bearer token, fetching a fresh one if the cached
// token is missing or expires within the refresh skew.
func (ts *tokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.expires.After(ts.clock.Now().Add(refreshSkew)) {
		return ts.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.creds.ClientID},
		"client_secret": {ts.creds.ClientSecret},
	}
	resp, err := ts.http.Post(ts.authURL, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &TransientError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, body)
		if retryableStatus(resp.StatusCode) {
			return "", &TransientError{Op: "token", Err: err}
		}
		return "", fmt.Errorf("catalog token: %w", err)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("catalog token: parse response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("catalog token: empty access_token in response")
	}

	ts.token = tr.AccessToken
	ts.expires = ts.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return ts.token, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
