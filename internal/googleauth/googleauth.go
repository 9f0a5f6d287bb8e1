// Package googleauth verifies Google ID tokens presented by the
// frontend's sign-in flow.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// ErrInvalidIDToken indicates the token failed Google-side validation
// or does not belong to this application.
var ErrInvalidIDToken = errors.New("googleauth: invalid id token")

// Profile holds the identity attributes extracted from a valid token.
type Profile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Verifier checks ID tokens against Google's tokeninfo endpoint.
type Verifier struct {
	clientID     string
	tokenInfoURL string
	httpClient   *http.Client
}

// NewVerifier constructs a Verifier for the given OAuth client ID.
func NewVerifier(clientID string) *Verifier {
	return &Verifier{
		clientID:     strings.TrimSpace(clientID),
		tokenInfoURL: defaultTokenInfoURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NewVerifierForEndpoint constructs a Verifier against a custom
// tokeninfo endpoint. Used by tests.
func NewVerifierForEndpoint(clientID, endpoint string, client *http.Client) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{clientID: strings.TrimSpace(clientID), tokenInfoURL: endpoint, httpClient: client}
}

// tokenInfo maps the fields of Google's tokeninfo response we consume.
type tokenInfo struct {
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Expires  string `json:"exp"`
}

// Verify validates the ID token and returns the Google profile. Any
// validation failure yields ErrInvalidIDToken; transport failures are
// returned as-is for the caller to treat as upstream errors.
func (v *Verifier) Verify(ctx context.Context, idToken string) (Profile, error) {
	if v == nil || v.clientID == "" {
		return Profile{}, errors.New("googleauth: client id not configured")
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Profile{}, ErrInvalidIDToken
	}

	endpoint := v.tokenInfoURL + "?id_token=" + url.QueryEscape(idToken)
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if errReq != nil {
		return Profile{}, fmt.Errorf("googleauth: build request: %w", errReq)
	}
	resp, errDo := v.httpClient.Do(req)
	if errDo != nil {
		return Profile{}, fmt.Errorf("googleauth: tokeninfo request: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, ErrInvalidIDToken
	}
	body, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return Profile{}, fmt.Errorf("googleauth: read tokeninfo response: %w", errRead)
	}

	var info tokenInfo
	if errUnmarshal := json.Unmarshal(body, &info); errUnmarshal != nil {
		return Profile{}, ErrInvalidIDToken
	}
	if info.Audience != v.clientID {
		return Profile{}, ErrInvalidIDToken
	}
	if exp, errParse := strconv.ParseInt(info.Expires, 10, 64); errParse != nil || time.Now().Unix() >= exp {
		return Profile{}, ErrInvalidIDToken
	}
	if info.Email == "" || info.Subject == "" {
		return Profile{}, ErrInvalidIDToken
	}

	return Profile{
		Subject: info.Subject,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}
