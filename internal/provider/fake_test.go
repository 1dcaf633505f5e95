package provider

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // matches Drive's content hash
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-go/internal/drive"
)

// fakeDrive is an in-memory Drive. Listings return trashed records like
// the real service does when the query does not exclude them.
type fakeDrive struct {
	mu sync.Mutex

	rootID  string
	nextID  int
	files   map[string]*drive.File
	content map[string][]byte
	changes []drive.Change

	listPageSize   int
	changePageSize int

	// injected failures, consumed one per call, keyed by method name
	fail map[string][]error
	// names for which the next N listings come back empty
	listMisses map[string]int
	// ids whose delete (and update) is denied
	deleteDenied map[string]bool
	updateDenied map[string]bool

	calls map[string]int
	about drive.About
}

func newFakeDrive() *fakeDrive {
	d := &fakeDrive{
		rootID:         "root-id",
		files:          make(map[string]*drive.File),
		content:        make(map[string][]byte),
		listPageSize:   2,
		changePageSize: 2,
		fail:           make(map[string][]error),
		listMisses:     make(map[string]int),
		deleteDenied:   make(map[string]bool),
		updateDenied:   make(map[string]bool),
		calls:          make(map[string]int),
		about: drive.About{
			PermissionID: "perm-1",
			Email:        "user@example.com",
			Usage:        100,
			Limit:        1000,
		},
	}

	d.files[d.rootID] = &drive.File{ID: d.rootID, Name: "My Drive", MimeType: drive.FolderMimeType, CanEdit: true}

	return d
}

func (d *fakeDrive) failOn(method string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fail[method] = append(d.fail[method], errs...)
}

func (d *fakeDrive) callCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[method]
}

// enter records a call and pops an injected failure. Callers hold d.mu.
func (d *fakeDrive) enter(method string) error {
	d.calls[method]++

	if errs := d.fail[method]; len(errs) > 0 {
		d.fail[method] = errs[1:]

		return errs[0]
	}

	return nil
}

func notFound(id string) error {
	return &drive.APIError{StatusCode: 404, Reason: "notFound", Message: "File not found: " + id, Err: drive.ErrNotFound}
}

func denied(id string) error {
	return &drive.APIError{StatusCode: 403, Reason: "insufficientFilePermissions", Message: id, Err: drive.ErrPermissionDenied}
}

func (d *fakeDrive) record(id string, removed bool) {
	ch := drive.Change{FileID: id, Removed: removed, Time: time.Unix(int64(len(d.changes)), 0).UTC()}
	if f, ok := d.files[id]; ok && !removed {
		cp := cloneFile(f)
		ch.File = &cp
	}

	d.changes = append(d.changes, ch)
}

func cloneFile(f *drive.File) drive.File {
	cp := *f
	cp.Parents = slices.Clone(f.Parents)
	cp.AppProperties = maps.Clone(f.AppProperties)

	return cp
}

// add inserts a record directly, bypassing the change log.
func (d *fakeDrive) add(f drive.File) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f.ID == "" {
		d.nextID++
		f.ID = "id-" + strconv.Itoa(d.nextID)
	}

	f.CanEdit = true
	cp := cloneFile(&f)
	d.files[f.ID] = &cp

	return f.ID
}

// trash marks id trashed out-of-band and logs the change.
func (d *fakeDrive) trash(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.files[id].Trashed = true
	d.record(id, false)
}

func (d *fakeDrive) file(id string) drive.File {
	d.mu.Lock()
	defer d.mu.Unlock()

	return cloneFile(d.files[id])
}

func (d *fakeDrive) GetFile(_ context.Context, id string) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("GetFile"); err != nil {
		return nil, err
	}

	if id == rootAlias {
		id = d.rootID
	}

	f, ok := d.files[id]
	if !ok {
		return nil, notFound(id)
	}

	cp := cloneFile(f)

	return &cp, nil
}

func (d *fakeDrive) ListFiles(_ context.Context, q drive.ListQuery) (*drive.FileList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("ListFiles"); err != nil {
		return nil, err
	}

	if q.Name != "" && d.listMisses[q.Name] > 0 {
		d.listMisses[q.Name]--

		return &drive.FileList{}, nil
	}

	var matched []drive.File

	for _, id := range slices.Sorted(maps.Keys(d.files)) {
		f := d.files[id]

		inParent := slices.Contains(f.Parents, q.ParentID) || (q.SharedWithMe && f.Shared && len(f.Parents) == 0)
		if !inParent {
			continue
		}

		if q.Name != "" && !strings.EqualFold(f.Name, q.Name) {
			continue
		}

		matched = append(matched, cloneFile(f))
	}

	start := 0
	if q.PageToken != "" {
		start, _ = strconv.Atoi(q.PageToken)
	}

	end := min(start+d.listPageSize, len(matched))
	page := &drive.FileList{Files: matched[start:end]}

	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}

	return page, nil
}

func (d *fakeDrive) CreateFile(_ context.Context, meta drive.FileMetadata, content io.Reader) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("CreateFile"); err != nil {
		return nil, err
	}

	if err := d.checkParents(meta.Parents); err != nil {
		return nil, err
	}

	d.nextID++
	f := &drive.File{
		ID:            "id-" + strconv.Itoa(d.nextID),
		Name:          meta.Name,
		MimeType:      meta.MimeType,
		Parents:       slices.Clone(meta.Parents),
		CanEdit:       true,
		ModifiedAt:    meta.ModifiedTime,
		AppProperties: maps.Clone(meta.AppProperties),
	}

	if content != nil {
		if err := d.setContent(f, content); err != nil {
			return nil, err
		}
	}

	d.files[f.ID] = f
	d.record(f.ID, false)

	cp := cloneFile(f)

	return &cp, nil
}

// checkParents rejects missing and non-folder parents. Callers hold d.mu.
func (d *fakeDrive) checkParents(parents []string) error {
	for _, pid := range parents {
		f, ok := d.files[pid]
		if !ok {
			return notFound(pid)
		}

		if !f.IsFolder() {
			return &drive.APIError{StatusCode: 403, Reason: "parentNotAFolder", Message: pid, Err: drive.ErrExists}
		}
	}

	return nil
}

// setContent stores content on f. Callers hold d.mu.
func (d *fakeDrive) setContent(f *drive.File, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	sum := md5.Sum(data) //nolint:gosec // see import
	f.MD5 = hex.EncodeToString(sum[:])
	f.Size = int64(len(data))
	d.content[f.ID] = data

	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}

	return nil
}

func (d *fakeDrive) UpdateFile(
	_ context.Context, id string, meta drive.FileMetadata, opts drive.UpdateOptions, content io.Reader,
) (*drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("UpdateFile"); err != nil {
		return nil, err
	}

	f, ok := d.files[id]
	if !ok {
		return nil, notFound(id)
	}

	if d.updateDenied[id] {
		return nil, denied(id)
	}

	if err := d.checkParents(opts.AddParents); err != nil {
		return nil, err
	}

	if meta.Name != "" {
		f.Name = meta.Name
	}

	for _, pid := range opts.RemoveParents {
		f.Parents = slices.DeleteFunc(f.Parents, func(p string) bool { return p == pid })
	}

	for _, pid := range opts.AddParents {
		if !slices.Contains(f.Parents, pid) {
			f.Parents = append(f.Parents, pid)
		}
	}

	if len(meta.AppProperties) > 0 && f.AppProperties == nil {
		f.AppProperties = make(map[string]string)
	}

	maps.Copy(f.AppProperties, meta.AppProperties)

	for _, k := range meta.ClearAppProperties {
		delete(f.AppProperties, k)
	}

	if content != nil && !f.IsFolder() {
		if err := d.setContent(f, content); err != nil {
			return nil, err
		}
	}

	d.record(id, false)

	cp := cloneFile(f)

	return &cp, nil
}

func (d *fakeDrive) DeleteFile(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("DeleteFile"); err != nil {
		return err
	}

	if _, ok := d.files[id]; !ok {
		return notFound(id)
	}

	if d.deleteDenied[id] {
		return denied(id)
	}

	delete(d.files, id)
	delete(d.content, id)
	d.record(id, true)

	return nil
}

func (d *fakeDrive) DownloadRange(_ context.Context, id string, offset, length int64, w io.Writer) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("DownloadRange"); err != nil {
		return 0, err
	}

	data, ok := d.content[id]
	if !ok {
		if _, exists := d.files[id]; !exists {
			return 0, notFound(id)
		}
	}

	if offset >= int64(len(data)) {
		return 0, drive.ErrRangeDone
	}

	end := min(offset+length, int64(len(data)))

	return io.Copy(w, bytes.NewReader(data[offset:end]))
}

func (d *fakeDrive) StartPageToken(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("StartPageToken"); err != nil {
		return "", err
	}

	return changeToken(len(d.changes)), nil
}

func changeToken(n int) string {
	return "tok-" + strconv.Itoa(n)
}

func (d *fakeDrive) ListChanges(_ context.Context, token string, _ int) (*drive.ChangeList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("ListChanges"); err != nil {
		return nil, err
	}

	start, err := strconv.Atoi(strings.TrimPrefix(token, "tok-"))
	if err != nil || start > len(d.changes) {
		return nil, fmt.Errorf("fake: bad token %q: %w", token, drive.ErrNotFound)
	}

	end := min(start+d.changePageSize, len(d.changes))
	page := &drive.ChangeList{Changes: slices.Clone(d.changes[start:end])}

	if end < len(d.changes) {
		page.NextPageToken = changeToken(end)
	} else {
		page.NewStartPageToken = changeToken(end)
	}

	return page, nil
}

func (d *fakeDrive) About(context.Context) (*drive.About, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("About"); err != nil {
		return nil, err
	}

	a := d.about

	return &a, nil
}

var _ API = (*fakeDrive)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// connected returns a provider over a fresh fake, already connected.
func connected(t *testing.T, opts ...Option) (*Provider, *fakeDrive) {
	t.Helper()

	d := newFakeDrive()
	p := New(d, append([]Option{WithLogger(discardLogger())}, opts...)...)

	_, err := p.Connect(t.Context())
	require.NoError(t, err)

	return p, d
}
