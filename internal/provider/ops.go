package provider

import (
	"context"
	"crypto/md5" //nolint:gosec // md5 is the content hash Drive reports
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/pathcache"
)

// downloadChunk is the size of each ranged download request.
const downloadChunk = 4 << 20

// Metadata is the optional caller-supplied metadata for Create and Upload.
type Metadata struct {
	MimeType      string
	ModTime       time.Time // zero means now
	AppProperties map[string]string
	Properties    map[string]string
}

// Quota returns the account's storage usage. Readings are reused for two
// minutes; accounts without a limit report 1 TiB.
func (p *Provider) Quota(ctx context.Context) (Quota, error) {
	p.mu.Lock()
	if !p.quotaAt.IsZero() && p.now().Sub(p.quotaAt) < quotaTTL {
		q := p.quota
		p.mu.Unlock()

		return q, nil
	}
	p.mu.Unlock()

	about, err := call(ctx, p, "about.get", p.api.About)
	if err != nil {
		return Quota{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.setQuotaLocked(about)

	return p.quota, nil
}

// Mkdir creates the folder at path and returns its id. An existing folder
// is returned as-is; an existing file is drive.ErrExists. The parent must
// exist.
func (p *Provider) Mkdir(ctx context.Context, path string) (string, error) {
	path = pathcache.Clean(path)

	info, err := p.InfoPath(ctx, path)
	if err != nil {
		return "", err
	}

	if info != nil {
		if info.Type != TypeDirectory {
			return "", fmt.Errorf("provider: mkdir %s: %w", path, drive.ErrExists)
		}

		p.logger.Debug("folder already exists", slog.String("path", path))

		return info.ID, nil
	}

	parentPath, name := pathcache.Split(path)

	pid, err := p.existingParent(ctx, "mkdir", path, parentPath)
	if err != nil {
		return "", err
	}

	f, err := call(ctx, p, "files.create", func(ctx context.Context) (*drive.File, error) {
		return p.api.CreateFile(ctx, drive.FileMetadata{
			Name:          name,
			MimeType:      drive.FolderMimeType,
			Parents:       []string{pid},
			AppProperties: parentHint(pid, p.currentRoot()),
		}, nil)
	})
	if err != nil {
		return "", err
	}

	if created, ok := pathcache.JoinName(parentPath, f.Name); ok {
		p.cache.Set(created, f.ID)
		p.updateCacheGauge()
	}

	return f.ID, nil
}

// Create uploads a new file at path. It fails with drive.ErrExists when
// something already lives there.
func (p *Provider) Create(ctx context.Context, path string, r io.Reader, meta *Metadata) (*ObjectInfo, error) {
	path = pathcache.Clean(path)

	exists, err := p.ExistsPath(ctx, path)
	if err != nil {
		return nil, err
	}

	if exists {
		return nil, fmt.Errorf("provider: create %s: %w", path, drive.ErrExists)
	}

	parentPath, name := pathcache.Split(path)

	pid, err := p.existingParent(ctx, "create", path, parentPath)
	if err != nil {
		return nil, err
	}

	fm := p.uploadMetadata(name, meta)
	fm.Parents = []string{pid}

	if hint := parentHint(pid, p.currentRoot()); hint != nil {
		if fm.AppProperties == nil {
			fm.AppProperties = make(map[string]string, len(hint))
		}

		maps.Copy(fm.AppProperties, hint)
	}

	f, err := call(ctx, p, "files.create", func(ctx context.Context) (*drive.File, error) {
		return p.api.CreateFile(ctx, fm, r)
	})
	if err != nil {
		return nil, err
	}

	actual, ok := pathcache.JoinName(parentPath, f.Name)
	if ok {
		p.cache.Set(actual, f.ID)
		p.updateCacheGauge()
	}

	p.mu.Lock()
	if !p.quotaAt.IsZero() {
		p.quota.Used += f.Size
	}
	p.mu.Unlock()

	info := toInfo(f, actual, p.currentRoot())

	return &info, nil
}

// Upload replaces the content of the file id. Uploading to a folder is
// drive.ErrExists.
func (p *Provider) Upload(ctx context.Context, id string, r io.Reader, meta *Metadata) (*ObjectInfo, error) {
	fm := p.uploadMetadata("", meta)

	f, err := call(ctx, p, "files.update", func(ctx context.Context) (*drive.File, error) {
		return p.api.UpdateFile(ctx, id, fm, drive.UpdateOptions{}, r)
	})
	if err != nil {
		return nil, err
	}

	if f.IsFolder() {
		return nil, fmt.Errorf("provider: upload %s: can only upload to a file: %w", id, drive.ErrExists)
	}

	var path string
	if paths := p.cache.PathsForID(id); len(paths) > 0 {
		path = paths[0]
	}

	info := toInfo(f, path, p.currentRoot())

	return &info, nil
}

// Download streams the content of id to w in ranged chunks, one transport
// call per chunk. It returns the number of bytes written.
func (p *Provider) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	var offset int64

	for {
		n, err := call(ctx, p, "files.download", func(ctx context.Context) (int64, error) {
			return p.api.DownloadRange(ctx, id, offset, downloadChunk, w)
		})
		offset += n

		switch {
		case errors.Is(err, drive.ErrRangeDone):
			return offset, nil
		case err != nil:
			return offset, err
		case n < downloadChunk:
			return offset, nil
		}
	}
}

// Rename moves the object id to path. A file may not replace a different
// object, and a folder may only replace an empty folder, which is deleted
// first. Renaming an object onto its own path (e.g. a case change) is
// allowed. Cached descendants move with it.
func (p *Provider) Rename(ctx context.Context, id, path string) error {
	path = pathcache.Clean(path)

	if pathcache.IsRoot(path) {
		return fmt.Errorf("provider: rename onto root: %w", drive.ErrExists)
	}

	conflict, err := p.InfoPath(ctx, path)
	if err != nil {
		return err
	}

	parentPath, name := pathcache.Split(path)

	pid, err := p.existingParent(ctx, "rename", path, parentPath)
	if err != nil {
		return err
	}

	f, err := p.fileByID(ctx, id)
	if err != nil {
		return err
	}

	if f == nil {
		return fmt.Errorf("provider: rename %s: %w", id, drive.ErrNotFound)
	}

	// Only a live cached path carries a subtree along.
	var oldPath string
	if paths := p.cache.PathsForID(id); len(paths) > 0 {
		oldPath = paths[0]
	}

	if conflict != nil && conflict.ID != id {
		if conflict.Type == TypeFile || !f.IsFolder() {
			return fmt.Errorf("provider: rename to %s: %w", path, drive.ErrExists)
		}

		empty, err := p.isEmpty(ctx, conflict.ID)
		if err != nil {
			return err
		}

		if !empty {
			return fmt.Errorf("provider: rename over non-empty folder %s: %w", path, drive.ErrExists)
		}

		p.logger.Info("renaming over empty folder, deleting target",
			slog.String("path", path),
			slog.String("target_id", conflict.ID),
		)

		if err := p.Delete(ctx, conflict.ID); err != nil {
			return err
		}
	}

	meta := drive.FileMetadata{Name: name, AppProperties: parentHint(pid, p.currentRoot())}
	if meta.AppProperties == nil && f.AppProperties[parentHintKey] != "" {
		meta.ClearAppProperties = []string{parentHintKey}
	}

	var opts drive.UpdateOptions
	if !slices.Equal(f.Parents, []string{pid}) {
		opts.AddParents = []string{pid}
		opts.RemoveParents = f.Parents
	}

	if _, err := call(ctx, p, "files.update", func(ctx context.Context) (*drive.File, error) {
		return p.api.UpdateFile(ctx, id, meta, opts, nil)
	}); err != nil {
		return err
	}

	if oldPath != "" {
		n := p.cache.MoveSubtree(oldPath, path)
		p.logger.Debug("moved cached subtree",
			slog.String("from", oldPath),
			slog.String("to", path),
			slog.Int("entries", n),
		)
	} else {
		p.cache.Set(path, id)
	}

	p.updateCacheGauge()

	return nil
}

// Delete permanently deletes id. Deleting an absent object is a no-op.
// Non-empty folders and the root are drive.ErrExists. When the account may
// not delete a shared item, the item is unfiled from its parents instead.
func (p *Provider) Delete(ctx context.Context, id string) error {
	f, err := p.fileByID(ctx, id)
	if err != nil {
		return err
	}

	if f == nil {
		p.logger.Debug("delete of absent object", slog.String("file_id", id))

		return nil
	}

	if id == p.currentRoot() {
		return fmt.Errorf("provider: cannot delete root folder: %w", drive.ErrExists)
	}

	if f.IsFolder() {
		empty, err := p.isEmpty(ctx, id)
		if err != nil {
			return err
		}

		if !empty {
			return fmt.Errorf("provider: cannot delete non-empty folder %s: %w", f.Name, drive.ErrExists)
		}
	}

	path, err := p.pathForID(ctx, id, f, 0)
	if err != nil {
		return err
	}

	err = callErr(ctx, p, "files.delete", func(ctx context.Context) error {
		return p.api.DeleteFile(ctx, id)
	})

	switch {
	case errors.Is(err, drive.ErrNotFound):
		p.logger.Debug("object vanished before delete", slog.String("file_id", id))
	case errors.Is(err, drive.ErrPermissionDenied):
		p.logger.Info("permission denied deleting, unfiling instead", slog.String("file_id", id))

		_, err = call(ctx, p, "files.update", func(ctx context.Context) (*drive.File, error) {
			return p.api.UpdateFile(ctx, id, drive.FileMetadata{}, drive.UpdateOptions{RemoveParents: f.Parents}, nil)
		})

		if errors.Is(err, drive.ErrPermissionDenied) {
			p.logger.Warn("unable to delete or unfile object", slog.String("file_id", id))
		} else if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if path != "" {
		p.cache.Trash(path)
		p.updateCacheGauge()
	}

	return nil
}

// ClearCache drops cached paths. With no id and an empty or root path it
// wipes the cache; otherwise it removes entries whose id is id or whose
// path is under path.
func (p *Provider) ClearCache(id, path string) {
	if path != "" {
		path = pathcache.Clean(path)
	}

	p.cache.ClearScope(id, path)
	p.updateCacheGauge()
}

// HashData returns the hex md5 of r, the hash Drive reports for content.
func HashData(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec // see import
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("provider: hashing data: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// existingParent resolves parentPath for a write to path, failing with
// drive.ErrNotFound when the parent is missing or not a folder.
func (p *Provider) existingParent(ctx context.Context, op, path, parentPath string) (string, error) {
	pid, err := p.parentID(ctx, parentPath)
	if err != nil {
		return "", err
	}

	if pid == "" {
		return "", fmt.Errorf("provider: %s %s: parent %s must exist: %w", op, path, parentPath, drive.ErrNotFound)
	}

	return pid, nil
}

// isEmpty reports whether folder id has no live children.
func (p *Provider) isEmpty(ctx context.Context, id string) (bool, error) {
	for _, err := range p.ListChildren(ctx, id) {
		return false, err
	}

	return true, nil
}

func (p *Provider) uploadMetadata(name string, meta *Metadata) drive.FileMetadata {
	fm := drive.FileMetadata{Name: name, ModifiedTime: p.now()}

	if meta == nil {
		return fm
	}

	if !meta.ModTime.IsZero() {
		fm.ModifiedTime = meta.ModTime
	}

	fm.MimeType = meta.MimeType
	fm.Properties = meta.Properties

	if len(meta.AppProperties) > 0 {
		fm.AppProperties = maps.Clone(meta.AppProperties)
	}

	return fm
}
