// Package provider keeps a local, eventually-stale mapping between Drive
// paths and object ids and keeps it coherent with the Drive change feed.
//
// A Provider serializes every remote call through one mutex, so at most one
// transport call is in flight per instance. The path cache has its own lock
// and may be read concurrently. Unauthorized and Disconnected failures
// drop the session; later calls fail fast with drive.ErrDisconnected until
// Connect succeeds again.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/metrics"
	"github.com/tonimelisma/gdrive-go/internal/pathcache"
)

// API is the Drive capability set the provider consumes. *drive.Client
// satisfies it.
type API interface {
	GetFile(ctx context.Context, id string) (*drive.File, error)
	ListFiles(ctx context.Context, q drive.ListQuery) (*drive.FileList, error)
	CreateFile(ctx context.Context, meta drive.FileMetadata, content io.Reader) (*drive.File, error)
	UpdateFile(ctx context.Context, id string, meta drive.FileMetadata, opts drive.UpdateOptions, content io.Reader) (*drive.File, error)
	DeleteFile(ctx context.Context, id string) error
	DownloadRange(ctx context.Context, id string, offset, length int64, w io.Writer) (int64, error)
	StartPageToken(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, token string, pageSize int) (*drive.ChangeList, error)
	About(ctx context.Context) (*drive.About, error)
}

var _ API = (*drive.Client)(nil)

// rootAlias is the id Drive accepts for the account's root folder.
const rootAlias = "root"

// quotaTTL is how long a quota reading is reused.
const quotaTTL = 120 * time.Second

// unlimitedQuota is reported as the limit for accounts without one.
const unlimitedQuota = 1 << 40

// Provider is the path/id resolver and change-feed reconciler for one
// Drive account.
type Provider struct {
	api     API
	cache   *pathcache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// callMu serializes transport calls.
	callMu sync.Mutex

	mu        sync.Mutex
	connected bool
	connID    string
	rootID    string
	cursor    string
	quota     Quota
	quotaAt   time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics instruments the provider.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// WithClock overrides the clock used for quota memoization.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New creates a disconnected provider over api.
func New(api API, opts ...Option) *Provider {
	p := &Provider{
		api:    api,
		cache:  pathcache.New(),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Cache exposes the path cache for diagnostics.
func (p *Provider) Cache() *pathcache.Cache {
	return p.cache
}

// Connect validates the session and returns the connection id, which is
// the account's permission id. A transient TLS failure is retried once.
// Unauthorized failures leave the provider disconnected and are returned
// as-is; every other failure is reported as drive.ErrDisconnected.
func (p *Provider) Connect(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.connected {
		id := p.connID
		p.mu.Unlock()

		return id, nil
	}
	p.mu.Unlock()

	about, err := doCall(ctx, p, "about.get", p.api.About)
	if err != nil && errors.Is(err, drive.ErrTransientTLS) {
		p.logger.Warn("transient tls failure on connect, retrying once", slog.String("error", err.Error()))
		about, err = doCall(ctx, p, "about.get", p.api.About)
	}

	if err != nil {
		if errors.Is(err, drive.ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		if errors.Is(err, drive.ErrDisconnected) {
			return "", fmt.Errorf("provider: connect: %w", err)
		}

		return "", fmt.Errorf("provider: connect: %w: %w", drive.ErrDisconnected, err)
	}

	p.mu.Lock()
	p.connected = true
	p.connID = about.PermissionID
	p.setQuotaLocked(about)
	p.mu.Unlock()

	if _, err := p.root(ctx); err != nil {
		p.Disconnect()

		return "", fmt.Errorf("provider: resolving root: %w", err)
	}

	p.logger.Info("connected",
		slog.String("connection_id", about.PermissionID),
		slog.String("email", about.Email),
	)

	return about.PermissionID, nil
}

// Disconnect drops the session. The path cache survives; the root id,
// memoized quota and connection id do not.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.disconnectLocked()
}

func (p *Provider) disconnectLocked() {
	p.connected = false
	p.connID = ""
	p.rootID = ""
	p.quota = Quota{}
	p.quotaAt = time.Time{}
}

// Connected reports whether the session is live.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected
}

// ConnectionID returns the permission id of the connected account.
func (p *Provider) ConnectionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connID
}

// call runs one transport call if the session is live.
func call[T any](ctx context.Context, p *Provider, method string, fn func(context.Context) (T, error)) (T, error) {
	if !p.Connected() {
		var zero T

		return zero, fmt.Errorf("provider: %s: %w", method, drive.ErrDisconnected)
	}

	return doCall(ctx, p, method, fn)
}

// callErr is call for operations without a result.
func callErr(ctx context.Context, p *Provider, method string, fn func(context.Context) error) error {
	_, err := call(ctx, p, method, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// doCall holds the transport lock around fn, records the outcome and drops
// the session on Unauthorized or Disconnected.
func doCall[T any](ctx context.Context, p *Provider, method string, fn func(context.Context) (T, error)) (T, error) {
	p.callMu.Lock()
	start := time.Now()
	v, err := fn(ctx)
	elapsed := time.Since(start)
	p.callMu.Unlock()

	p.metrics.RecordCall(method, elapsed, err)

	if errors.Is(err, drive.ErrUnauthorized) || errors.Is(err, drive.ErrDisconnected) {
		p.forceDisconnect(method, err)
	}

	return v, err
}

func (p *Provider) forceDisconnect(method string, err error) {
	p.mu.Lock()
	was := p.connected
	p.disconnectLocked()
	p.mu.Unlock()

	if was {
		p.metrics.RecordDisconnect()
		p.logger.Warn("session dropped",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
	}
}

// root returns the root folder id, resolving and caching it under "/" on
// first use.
func (p *Provider) root(ctx context.Context) (string, error) {
	p.mu.Lock()
	id := p.rootID
	p.mu.Unlock()

	if id != "" {
		return id, nil
	}

	f, err := call(ctx, p, "files.get", func(ctx context.Context) (*drive.File, error) {
		return p.api.GetFile(ctx, rootAlias)
	})
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.rootID = f.ID
	p.mu.Unlock()

	p.cache.Set(pathcache.Root, f.ID)

	return f.ID, nil
}

// refreshRoot forgets the root id and resolves it again. It is used when a
// lookup by the cached root id comes back not-found.
func (p *Provider) refreshRoot(ctx context.Context, stale string) (string, error) {
	p.mu.Lock()
	if p.rootID == stale {
		p.rootID = ""
	}
	p.mu.Unlock()

	p.cache.RemoveExact(pathcache.Root)

	return p.root(ctx)
}

// currentRoot returns the root id without resolving it.
func (p *Provider) currentRoot() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rootID
}

func (p *Provider) setQuotaLocked(about *drive.About) {
	limit := about.Limit
	if limit == 0 {
		limit = unlimitedQuota
	}

	p.quota = Quota{Used: about.Usage, Limit: limit, Login: about.Email}
	p.quotaAt = p.now()
}

func (p *Provider) updateCacheGauge() {
	p.metrics.SetCacheEntries(p.cache.Len())
}
