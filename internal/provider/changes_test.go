package provider

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/metrics"
	"github.com/tonimelisma/gdrive-go/internal/pathcache"
)

func drain(t *testing.T, p *Provider) []Event {
	t.Helper()

	var out []Event

	for ev, err := range p.Events(t.Context()) {
		require.NoError(t, err)

		out = append(out, ev)
	}

	return out
}

// anchor pins the cursor to "now" so only later changes are reported.
func anchor(t *testing.T, p *Provider) string {
	t.Helper()

	cur, err := p.CurrentCursor(t.Context())
	require.NoError(t, err)

	return cur
}

func TestCurrentCursor_LazyInit(t *testing.T) {
	t.Parallel()

	p, d := connected(t)

	first, err := p.CurrentCursor(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "tok-0", first)

	second, err := p.CurrentCursor(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, d.callCount("StartPageToken"))
}

func TestSetCursor(t *testing.T) {
	t.Parallel()

	p, d := connected(t)

	for _, bad := range []string{" ", "\t", "a b", "tok\n1"} {
		err := p.SetCursor(t.Context(), bad)
		require.ErrorIs(t, err, ErrInvalidCursor, "cursor %q", bad)
	}

	require.NoError(t, p.SetCursor(t.Context(), "tok-7"))
	assert.Equal(t, "tok-7", anchor(t, p))

	_, err := p.Create(t.Context(), "/a.txt", strings.NewReader("a"), nil)
	require.NoError(t, err)

	// Empty means start from now.
	require.NoError(t, p.SetCursor(t.Context(), ""))
	assert.Equal(t, "tok-1", anchor(t, p))
	assert.Equal(t, 1, d.callCount("StartPageToken"))
}

func TestEvents_ExistsFlag(t *testing.T) {
	t.Parallel()

	p, _ := connected(t)
	anchor(t, p)

	created, err := p.Create(t.Context(), "/f.txt", strings.NewReader("f"), nil)
	require.NoError(t, err)
	require.NoError(t, p.Delete(t.Context(), created.ID))

	events := drain(t, p)
	require.Len(t, events, 2)

	assert.Equal(t, created.ID, events[0].ID)
	assert.Equal(t, ExistsUnknown, events[0].Exists, "a live record never claims presence")
	assert.Equal(t, TypeFile, events[0].Type)

	assert.Equal(t, created.ID, events[1].ID)
	assert.Equal(t, ExistsFalse, events[1].Exists)
	assert.Equal(t, TypeUnknown, events[1].Type)

	for _, ev := range events {
		assert.NotEqual(t, ExistsTrue, ev.Exists)
		assert.Empty(t, ev.Path)
	}
}

func TestEvents_CursorCommitsAfterFullPage(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	d.changePageSize = 10
	start := anchor(t, p)

	for _, name := range []string{"/a", "/b", "/c"} {
		_, err := p.Create(t.Context(), name, strings.NewReader(name), nil)
		require.NoError(t, err)
	}

	// Stop after the first event: nothing is committed.
	for _, err := range p.Events(t.Context()) {
		require.NoError(t, err)

		break
	}

	assert.Equal(t, start, anchor(t, p))

	events := drain(t, p)
	require.Len(t, events, 3, "an abandoned page is delivered again")

	for _, ev := range events {
		assert.Equal(t, "tok-3", ev.NewCursor)
	}

	assert.Equal(t, "tok-3", anchor(t, p))

	assert.Empty(t, drain(t, p))
	assert.Equal(t, "tok-3", anchor(t, p))
}

func TestEvents_MultiPage(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	start := anchor(t, p)

	for _, name := range []string{"/a", "/b", "/c"} {
		_, err := p.Create(t.Context(), name, strings.NewReader(name), nil)
		require.NoError(t, err)
	}

	var seen int

	for ev, err := range p.Events(t.Context()) {
		require.NoError(t, err)

		seen++

		if seen <= d.changePageSize {
			assert.Empty(t, ev.NewCursor, "intermediate pages carry no new cursor")
			assert.Equal(t, start, anchor(t, p))
		} else {
			assert.Equal(t, "tok-3", ev.NewCursor)
		}
	}

	assert.Equal(t, 3, seen)
	assert.Equal(t, "tok-3", anchor(t, p))
	assert.Equal(t, 2, d.callCount("ListChanges"))
}

func TestEvents_ErrorLeavesCursor(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	start := anchor(t, p)

	_, err := p.Create(t.Context(), "/a", strings.NewReader("a"), nil)
	require.NoError(t, err)

	d.failOn("ListChanges", fmt.Errorf("%w: backend error", drive.ErrTemporary))

	var gotErr error
	for _, err := range p.Events(t.Context()) {
		gotErr = err
	}

	require.ErrorIs(t, gotErr, drive.ErrTemporary)
	assert.Equal(t, start, anchor(t, p))
}

func TestEvents_DirectoryChangeCascades(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	dirID, err := p.Mkdir(t.Context(), "/d")
	require.NoError(t, err)
	_, err = p.Mkdir(t.Context(), "/d/sub")
	require.NoError(t, err)
	_, err = p.Create(t.Context(), "/d/sub/x.txt", strings.NewReader("x"), nil)
	require.NoError(t, err)
	_, err = p.Create(t.Context(), "/keep.txt", strings.NewReader("k"), nil)
	require.NoError(t, err)
	anchor(t, p)

	// Renamed out-of-band.
	_, err = d.UpdateFile(t.Context(), dirID, drive.FileMetadata{Name: "renamed"}, drive.UpdateOptions{}, nil)
	require.NoError(t, err)

	events := drain(t, p)
	require.Len(t, events, 1)
	assert.Equal(t, TypeDirectory, events[0].Type)

	snap := p.Cache().Snapshot()
	assert.NotContains(t, snap, "/d")
	assert.NotContains(t, snap, "/d/sub")
	assert.NotContains(t, snap, "/d/sub/x.txt")
	assert.Contains(t, snap, "/keep.txt")
	assert.Contains(t, snap, pathcache.Root)

	info, err := p.InfoPath(t.Context(), "/renamed/sub/x.txt")
	require.NoError(t, err)
	require.NotNil(t, info)
}

func TestEvents_FileChangeDropsOnlyItsPath(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	_, err := p.Mkdir(t.Context(), "/d")
	require.NoError(t, err)
	f, err := p.Create(t.Context(), "/d/x.txt", strings.NewReader("x"), nil)
	require.NoError(t, err)
	anchor(t, p)

	_, err = d.UpdateFile(t.Context(), f.ID, drive.FileMetadata{}, drive.UpdateOptions{}, strings.NewReader("new"))
	require.NoError(t, err)

	events := drain(t, p)
	require.Len(t, events, 1)
	assert.Equal(t, TypeFile, events[0].Type)

	snap := p.Cache().Snapshot()
	assert.NotContains(t, snap, "/d/x.txt")
	assert.Contains(t, snap, "/d")
}

func TestEvents_RemovedUnknownTypeCascades(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	dirID, err := p.Mkdir(t.Context(), "/e")
	require.NoError(t, err)
	p.Cache().Set("/e/ghost", "ghost-id")
	anchor(t, p)

	require.NoError(t, d.DeleteFile(t.Context(), dirID))

	events := drain(t, p)
	require.Len(t, events, 1)
	assert.Equal(t, TypeUnknown, events[0].Type)
	assert.Equal(t, ExistsFalse, events[0].Exists)

	snap := p.Cache().Snapshot()
	assert.NotContains(t, snap, "/e")
	assert.NotContains(t, snap, "/e/ghost")
}

func TestEvents_RootChangeKeepsCache(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	_, err := p.Create(t.Context(), "/top.txt", strings.NewReader("t"), nil)
	require.NoError(t, err)
	anchor(t, p)

	_, err = d.UpdateFile(t.Context(), d.rootID, drive.FileMetadata{}, drive.UpdateOptions{}, nil)
	require.NoError(t, err)

	events := drain(t, p)
	require.Len(t, events, 1)

	snap := p.Cache().Snapshot()
	assert.Contains(t, snap, pathcache.Root)
	assert.Contains(t, snap, "/top.txt")
}

func TestEvents_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	p, _ := connected(t, WithMetrics(metrics.New(reg)))
	anchor(t, p)

	created, err := p.Create(t.Context(), "/f", strings.NewReader("f"), nil)
	require.NoError(t, err)
	require.NoError(t, p.Delete(t.Context(), created.ID))

	drain(t, p)

	assert.InDelta(t, 2, sumCounter(t, reg, "gdrive_change_events_total"), 0)
}

func TestEvents_DisconnectedFailsFast(t *testing.T) {
	t.Parallel()

	p, d := connected(t)
	anchor(t, p)
	p.Disconnect()

	var gotErr error
	for _, err := range p.Events(t.Context()) {
		gotErr = err
	}

	require.ErrorIs(t, gotErr, drive.ErrDisconnected)
	assert.Zero(t, d.callCount("ListChanges"))
}
