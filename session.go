package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/metrics"
	"github.com/tonimelisma/gdrive-go/internal/provider"
)

// errNoClientID is returned before any network traffic when the config has
// no OAuth client.
var errNoClientID = errors.New(
	"auth.client_id is not set: create a Desktop OAuth client in the Google Cloud console and add it to the config file")

func oauthConfig(cfg *config.AuthConfig) (*oauth2.Config, error) {
	if cfg.ClientID == "" {
		return nil, errNoClientID
	}

	return drive.OAuthConfig(cfg.ClientID, cfg.ClientSecret), nil
}

// newHTTPClient bounds the connection phases by the configured timeout but
// not the body, so large transfers are never cut off mid-stream.
func newHTTPClient(cfg *config.NetworkConfig) *http.Client {
	timeout := cfg.TimeoutDuration()

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{Transport: transport}
}

func newDriveClient(cfg *config.NetworkConfig, ts drive.TokenSource, logger *slog.Logger) *drive.Client {
	return drive.NewClient(cfg.BaseURL, newHTTPClient(cfg), ts, logger,
		drive.WithUploadURL(cfg.UploadURL),
		drive.WithUserAgent(cfg.UserAgent),
		drive.WithMaxRetries(cfg.MaxRetries),
	)
}

// openProvider loads the saved token, builds the Drive client and returns
// a connected provider. m may be nil.
func openProvider(ctx context.Context, cc *CLIContext, m *metrics.Metrics) (*provider.Provider, error) {
	oc, err := oauthConfig(&cc.Cfg.Auth)
	if err != nil {
		return nil, err
	}

	ts, err := drive.TokenSourceFromPath(ctx, oc, cc.Cfg.Auth.TokenFile, cc.Logger)
	if err != nil {
		return nil, err
	}

	p := provider.New(newDriveClient(&cc.Cfg.Network, ts, cc.Logger),
		provider.WithLogger(cc.Logger),
		provider.WithMetrics(m),
	)

	connID, err := p.Connect(ctx)
	if err != nil {
		return nil, err
	}

	cc.Logger.Debug("connected", slog.String("permission_id", connID))

	return p, nil
}

// openBrowser hands url to the platform opener.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}
