package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xray/xray/internal/platform/auth"
)

const (
	checkPermissionPath = "/security/auth/check_permission/"
	maxResponseBytes    = 64 << 10
)

// RemoteChecker asks the authorization service whether the caller holds a
// permission, forwarding the caller's bearer token.
type RemoteChecker struct {
	baseURL string
	client  *http.Client
}

// NewRemoteChecker creates a checker against baseURL.
func NewRemoteChecker(baseURL string, timeout time.Duration) *RemoteChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewRemoteCheckerWithClient(baseURL, &http.Client{Timeout: timeout})
}

// NewRemoteCheckerWithClient is NewRemoteChecker with a caller-supplied client.
func NewRemoteCheckerWithClient(baseURL string, client *http.Client) *RemoteChecker {
	return &RemoteChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type checkResponse struct {
	HasPermission *bool  `json:"has_permission"`
	Codename      string `json:"codename"`
}

// HasPermission returns false without error when the service answers 403,
// and ErrUnauthenticated on 401.
func (r *RemoteChecker) HasPermission(ctx context.Context, codename string) (bool, error) {
	target := r.baseURL + checkPermissionPath + "?" + url.Values{"codename": {codename}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("create permission request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := auth.TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("check permission %s: %w", codename, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return false, nil
	case http.StatusUnauthorized:
		return false, ErrUnauthenticated
	default:
		return false, fmt.Errorf("check permission %s: status %d", codename, resp.StatusCode)
	}

	var body checkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return false, fmt.Errorf("decode permission response: %w", err)
	}
	return body.HasPermission != nil && *body.HasPermission, nil
}
