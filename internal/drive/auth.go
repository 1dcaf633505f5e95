package drive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/tonimelisma/gdrive-go/internal/tokenfile"
)

// ErrNotLoggedIn is returned when no token file exists.
var ErrNotLoggedIn = errors.New("drive: not logged in")

// DefaultScopes grants full Drive access, which rename-by-parent and
// deleting shared items require.
var DefaultScopes = []string{"https://www.googleapis.com/auth/drive"}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the path the loopback redirect hits.
const callbackPath = "/"

// shutdownTimeout bounds how long the callback server may drain.
const shutdownTimeout = 5 * time.Second

// OAuthConfig builds the installed-app OAuth2 config for Google.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       DefaultScopes,
		Endpoint:     endpoints.Google,
	}
}

type callbackResult struct {
	code string
	err  error
}

// Login runs the authorization code + PKCE flow against a loopback
// redirect:
//  1. Binds 127.0.0.1 on a random port
//  2. Calls openURL with the consent URL
//  3. Waits for the redirect carrying the code
//  4. Exchanges the code and saves the token at tokenPath
//
// The returned TokenSource refreshes with ctx, so ctx must outlive it.
func Login(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow", slog.String("path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	// Copy so the caller's config keeps its redirect URL.
	flow := *cfg
	flow.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("drive: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := flow.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}

		code = res.code
	case <-ctx.Done():
		return nil, fmt.Errorf("drive: browser auth canceled: %w", ctx.Err())
	}

	tok, err := flow.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("drive: token exchange failed: %w", err)
	}

	if err := tokenfile.SaveToken(tokenPath, tok); err != nil {
		return nil, fmt.Errorf("drive: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newTokenSource(ctx, &flow, tok, tokenPath, logger), nil
}

func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("drive: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("drive: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("drive: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// handleOAuthCallback validates state, extracts the code and reports it.
// Only the first result is delivered; later hits are answered but dropped.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	var res callbackResult

	switch {
	case q.Get("state") != state:
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		res.err = fmt.Errorf("drive: OAuth2 state mismatch (possible CSRF)")
	case q.Get("error") != "":
		http.Error(w, "Authorization failed: "+q.Get("error"), http.StatusBadRequest)
		res.err = fmt.Errorf("drive: authorization failed: %s: %s", q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		res.err = fmt.Errorf("drive: callback missing authorization code")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")
		res.code = q.Get("code")
	}

	select {
	case resultCh <- res:
	default:
	}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// TokenSourceFromPath loads the token saved at tokenPath and returns a
// refreshing TokenSource that writes every new access token back to disk.
// It returns ErrNotLoggedIn when there is no token file.
func TokenSourceFromPath(ctx context.Context, cfg *oauth2.Config, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	logger.Debug("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())),
	)

	return newTokenSource(ctx, cfg, tf.Token, tokenPath, logger), nil
}

// Logout removes the token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	removed, err := tokenfile.Remove(tokenPath)
	if err != nil {
		return err
	}

	if removed {
		logger.Info("logout: removed token file", slog.String("path", tokenPath))
	} else {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))
	}

	return nil
}

func newTokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, tokenPath string, logger *slog.Logger) *tokenBridge {
	return &tokenBridge{
		src:       cfg.TokenSource(ctx, tok),
		tokenPath: tokenPath,
		last:      tok.AccessToken,
		logger:    logger,
	}
}

// tokenBridge adapts oauth2.TokenSource to TokenSource. It persists the
// token whenever the library hands out a new access token, and classifies
// refresh failures: a rejected grant is ErrUnauthorized, network trouble
// is ErrDisconnected.
type tokenBridge struct {
	src       oauth2.TokenSource
	tokenPath string
	logger    *slog.Logger

	mu   sync.Mutex
	last string
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		return "", classifyTokenError(err)
	}

	b.mu.Lock()
	changed := t.AccessToken != b.last
	b.last = t.AccessToken
	b.mu.Unlock()

	if changed {
		b.logger.Info("token refreshed", slog.Time("new_expiry", t.Expiry))

		if saveErr := tokenfile.SaveToken(b.tokenPath, t); saveErr != nil {
			b.logger.Warn("failed to persist refreshed token",
				slog.String("path", b.tokenPath),
				slog.String("error", saveErr.Error()),
			)
		}
	}

	return t.AccessToken, nil
}

// classifyTokenError maps an oauth2 refresh failure onto the taxonomy.
func classifyTokenError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.Response != nil && rErr.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: refreshing token: %v", ErrTemporary, err)
		}

		return fmt.Errorf("%w: refreshing token: %v", ErrUnauthorized, err)
	}

	if classified := classifyTransportError(err); errors.Is(classified, ErrDisconnected) || errors.Is(classified, ErrTemporary) {
		return classified
	}

	return fmt.Errorf("%w: refreshing token: %v", ErrUnauthorized, err)
}
