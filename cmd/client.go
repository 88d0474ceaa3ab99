package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/conneroisu/sowing/internal/config"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// wikiClient is the HTTP client the editing hosts talk to the wiki with.
// When editor.username is set it logs in first and keeps the session
// cookie in its jar.
func wikiClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	if cfg.Editor.Username == "" {
		return http.DefaultClient, nil
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar}

	form := url.Values{
		"username": {cfg.Editor.Username},
		"password": {cfg.Editor.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Editor.BaseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// The jar is shared, so the cookie lands in client.
	login := *client
	login.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := login.Do(req)
	if err != nil {
		return nil, sowerrors.NewNetworkError(sowerrors.ErrCodeAuthFailed, "cannot reach "+cfg.Editor.BaseURL+" to log in", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther && resp.StatusCode != http.StatusFound {
		return nil, sowerrors.NewAuthError(sowerrors.ErrCodeAuthFailed,
			fmt.Sprintf("login as %s rejected with status %d", cfg.Editor.Username, resp.StatusCode), nil).
			WithContext("hint", "check editor.username and editor.password")
	}
	return client, nil
}
