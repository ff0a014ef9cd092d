// Package auth implements GitHub's OAuth device authorization flow and owns
// the persisted credential.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmorland/gitscout/internal/api"
	"github.com/jmorland/gitscout/internal/models"
	"github.com/jmorland/gitscout/internal/store"
)

// GitHub's device authorization endpoints.
const (
	DeviceCodeURL = "https://github.com/login/device/code"
	TokenURL      = "https://github.com/login/oauth/access_token"
)

const (
	grantType       = "urn:ietf:params:oauth:grant-type:device_code"
	defaultInterval = 5 * time.Second
	// Each slow_down response raises the polling interval by 5 seconds
	// unless the server names a new interval itself.
	slowDownStep = 5 * time.Second
)

// Errors distinguishing why a device flow ended without a credential. The
// remediation differs per kind: denial means retry from scratch, expiry
// means request a fresh code, start failure usually means connectivity or
// a misconfigured client ID.
var (
	ErrDeviceFlowStartFailed = errors.New("device flow start failed")
	ErrDeviceFlowDenied      = errors.New("device flow denied by user")
	ErrDeviceFlowExpired     = errors.New("device flow expired")
)

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Error           string `json:"error"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
	Interval    int    `json:"interval"`
}

// Authenticator drives the device flow. It is the single writer of the
// stored credential; everything else only reads it.
type Authenticator struct {
	clientID   string
	store      *store.Store
	httpClient *http.Client
	deviceURL  string
	tokenURL   string

	// Injected for tests so polling runs without wall-clock delays.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	fetchProfile func(ctx context.Context, token string) (*models.User, error)
}

// New creates an authenticator for the given OAuth app client ID, persisting
// credentials in st.
func New(clientID string, st *store.Store) *Authenticator {
	return &Authenticator{
		clientID:   clientID,
		store:      st,
		httpClient: http.DefaultClient,
		deviceURL:  DeviceCodeURL,
		tokenURL:   TokenURL,
		now:        time.Now,
		sleep:      sleepContext,
		fetchProfile: func(ctx context.Context, token string) (*models.User, error) {
			return api.NewRESTClient(token).GetAuthenticatedUser(ctx)
		},
	}
}

// Start requests a device code. The returned session carries the user code
// and verification URI the caller must present to the user; exchanging the
// code for a credential is a separate step (Poll). Starting a new flow does
// not touch any existing stored credential.
func (a *Authenticator) Start(ctx context.Context) (*models.DeviceFlowSession, error) {
	form := url.Values{
		"client_id": {a.clientID},
	}

	var dc deviceCodeResponse
	if err := a.postForm(ctx, a.deviceURL, form, &dc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceFlowStartFailed, err)
	}
	if dc.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrDeviceFlowStartFailed, dc.Error)
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return nil, fmt.Errorf("%w: incomplete device code response", ErrDeviceFlowStartFailed)
	}

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	session := &models.DeviceFlowSession{
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURI: dc.VerificationURI,
		Interval:        interval,
	}
	if dc.ExpiresIn > 0 {
		session.ExpiresAt = a.now().Add(time.Duration(dc.ExpiresIn) * time.Second)
	}
	return session, nil
}

// Poll exchanges the session's device code for an access token, waiting the
// session interval before each attempt. "authorization_pending" continues
// polling; "slow_down" raises the interval first. Poll returns once the user
// approves, the flow is denied or expires (server-reported or by the local
// clock passing ExpiresAt), or ctx is cancelled — cancellation is observed
// at every wait, so no request is sent after it. On success the credential
// and profile are persisted before returning.
func (a *Authenticator) Poll(ctx context.Context, session *models.DeviceFlowSession) (*models.Credential, error) {
	interval := session.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	for {
		if err := a.sleep(ctx, interval); err != nil {
			return nil, err
		}
		if !session.ExpiresAt.IsZero() && a.now().After(session.ExpiresAt) {
			return nil, ErrDeviceFlowExpired
		}

		form := url.Values{
			"client_id":   {a.clientID},
			"device_code": {session.DeviceCode},
			"grant_type":  {grantType},
		}
		var tok accessTokenResponse
		if err := a.postForm(ctx, a.tokenURL, form, &tok); err != nil {
			return nil, err
		}

		switch tok.Error {
		case "":
			if tok.AccessToken == "" {
				return nil, &api.TransportError{Err: errors.New("token response missing access_token")}
			}
			return a.finish(ctx, tok.AccessToken)
		case "authorization_pending":
			// User has not approved yet; keep the current cadence.
		case "slow_down":
			if tok.Interval > 0 {
				interval = time.Duration(tok.Interval) * time.Second
			} else {
				interval += slowDownStep
			}
		case "access_denied":
			return nil, ErrDeviceFlowDenied
		case "expired_token":
			return nil, ErrDeviceFlowExpired
		default:
			return nil, fmt.Errorf("token exchange failed: %s", tok.Error)
		}
	}
}

// Logout clears the stored token and profile together. Logging out while
// signed out succeeds.
func (a *Authenticator) Logout() error {
	return a.store.Clear()
}

// StoredUser returns the signed-in user's profile, or nil when signed out.
func (a *Authenticator) StoredUser() (*models.User, error) {
	return a.store.User()
}

// Token returns the stored bearer token, or "" when signed out.
func (a *Authenticator) Token() (string, error) {
	return a.store.Token()
}

func (a *Authenticator) finish(ctx context.Context, token string) (*models.Credential, error) {
	user, err := a.fetchProfile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}

	cred := &models.Credential{Token: token, User: *user}
	if err := a.store.SaveCredential(cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}
	return cred, nil
}

func (a *Authenticator) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &api.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &api.TransportError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
