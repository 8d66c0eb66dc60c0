package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthorizeURL builds the GoTrue OAuth entry point:
// <base>/auth/v1/authorize?provider=<provider>&redirect_to=<redirect>
func AuthorizeURL(baseURL, provider, redirectURL string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("oauth provider is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/auth/v1/authorize")
	if err != nil {
		return "", fmt.Errorf("invalid auth base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid auth base url: %q", baseURL)
	}

	q := u.Query()
	q.Set("provider", provider)
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
