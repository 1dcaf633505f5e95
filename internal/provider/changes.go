package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"unicode"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/pathcache"
)

// ErrInvalidCursor is returned by SetCursor for values that cannot be a
// change-feed token.
var ErrInvalidCursor = errors.New("provider: invalid cursor")

// changesPageSize is the page size requested from the change feed.
const changesPageSize = 1000

// CurrentCursor returns the committed change-feed cursor, fetching the
// service's latest token on first use.
func (p *Provider) CurrentCursor(ctx context.Context) (string, error) {
	p.mu.Lock()
	cur := p.cursor
	p.mu.Unlock()

	if cur != "" {
		return cur, nil
	}

	return p.fetchLatestCursor(ctx)
}

// SetCursor replaces the committed cursor. An empty cursor means "start
// from now" and fetches the latest token.
func (p *Provider) SetCursor(ctx context.Context, cursor string) error {
	if cursor == "" {
		_, err := p.fetchLatestCursor(ctx)

		return err
	}

	if !validCursor(cursor) {
		return fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}

	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()

	return nil
}

func (p *Provider) fetchLatestCursor(ctx context.Context) (string, error) {
	tok, err := call(ctx, p, "changes.getStartPageToken", p.api.StartPageToken)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cursor = tok
	p.mu.Unlock()

	return tok, nil
}

// validCursor accepts opaque tokens: non-blank, no whitespace or control
// characters.
func validCursor(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}

	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}

	return true
}

// Events yields the changes since the committed cursor. Each page is one
// transport call. The committed cursor moves to the page's new start token
// only after every event of that page was consumed, so a consumer that
// stops early sees the same events again on the next call.
//
// Cache maintenance happens per event before it is yielded: every path
// cached for the changed id is dropped, and for folders (or records whose
// type is unknown) every cached descendant of those paths is dropped too.
func (p *Provider) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		token, err := p.CurrentCursor(ctx)
		if err != nil {
			yield(Event{}, err)
			return
		}

		for token != "" {
			page, err := call(ctx, p, "changes.list", func(ctx context.Context) (*drive.ChangeList, error) {
				return p.api.ListChanges(ctx, token, changesPageSize)
			})
			if err != nil {
				yield(Event{}, err)
				return
			}

			for i := range page.Changes {
				ev := p.reconcile(&page.Changes[i], page.NewStartPageToken)
				p.metrics.RecordChangeEvent(ev.Exists.String())

				if !yield(ev, nil) {
					return
				}
			}

			if page.NewStartPageToken != "" && page.NewStartPageToken != token {
				p.mu.Lock()
				p.cursor = page.NewStartPageToken
				p.mu.Unlock()

				p.logger.Debug("committed change cursor", slog.String("cursor", page.NewStartPageToken))
			}

			token = page.NextPageToken
		}
	}
}

// reconcile builds the event for one change record and applies the cache
// invalidation it implies.
func (p *Provider) reconcile(ch *drive.Change, newCursor string) Event {
	ev := Event{
		Type:      TypeUnknown,
		ID:        ch.FileID,
		Exists:    ExistsUnknown,
		Time:      ch.Time,
		NewCursor: newCursor,
	}

	if ch.Removed {
		ev.Exists = ExistsFalse
	}

	if ch.File != nil {
		ev.Type = objectType(ch.File)
	}

	// The event path is unresolved, so every cached path for the id is
	// considered stale.
	var remove []string

	for _, cached := range p.cache.PathsForID(ch.FileID) {
		if pathcache.IsRoot(cached) {
			continue
		}

		remove = append(remove, cached)
	}

	cascade := ev.Type != TypeFile

	for _, path := range remove {
		if cascade {
			p.cache.Remove(path)
		} else {
			p.cache.RemoveExact(path)
		}
	}

	if len(remove) > 0 {
		p.logger.Debug("invalidated cached paths for change",
			slog.String("file_id", ch.FileID),
			slog.Int("paths", len(remove)),
			slog.Bool("cascade", cascade),
		)
		p.updateCacheGauge()
	}

	return ev
}
