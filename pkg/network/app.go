package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Masterminds/semver/v3"
)

// AppInfo describes an rApp deployed on the network.
type AppInfo struct {
	Source         string `json:"source"`
	AppName        string `json:"appName"`
	AppVersion     string `json:"appVersion"`
	AppDescription string `json:"appDescription"`
	AppDownloadURL string `json:"appDownloadURL"`
	BinaryHash     string `json:"binaryHash"`
	TokenTicker    string `json:"tokenTicker"`
	TotalSupply    uint64 `json:"totalSupply"`
}

// AppData calls GET /global-snapshots/app-data/{id}. An unknown app returns
// nil without error.
func (c *Client) AppData(ctx context.Context, appID string) (*AppInfo, error) {
	var out AppInfo
	err := c.do(ctx, http.MethodGet, "/global-snapshots/app-data/"+url.PathEscape(appID), &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("app data: %w", err)
	}
	return &out, nil
}

// NewerThan reports whether the deployed version is ahead of current.
func (a *AppInfo) NewerThan(current string) (bool, error) {
	deployed, err := semver.NewVersion(a.AppVersion)
	if err != nil {
		return false, fmt.Errorf("deployed version %q: %w", a.AppVersion, err)
	}
	local, err := semver.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("local version %q: %w", current, err)
	}
	return deployed.GreaterThan(local), nil
}
