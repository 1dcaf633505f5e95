package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/pathcache"
)

// maxPathDepth bounds the parent walk in pathForID. Deeper chains, or
// cycles, resolve to an unknown path.
const maxPathDepth = 256

func toInfo(f *drive.File, path, rootID string) ObjectInfo {
	return ObjectInfo{
		Type:      objectType(f),
		ID:        f.ID,
		Hash:      f.MD5,
		Path:      path,
		Name:      f.Name,
		ParentIDs: resolveParents(f, rootID),
		Size:      f.Size,
		ModTime:   f.ModifiedAt,
		MimeType:  f.MimeType,
		Shared:    f.Shared,
		ReadOnly:  !f.CanEdit,
	}
}

// InfoPath resolves path to the object living there. It returns (nil, nil)
// when nothing does. On success the path is cached under the name the
// service reports, which may differ in case from the one asked for.
func (p *Provider) InfoPath(ctx context.Context, path string) (*ObjectInfo, error) {
	path = pathcache.Clean(path)

	rootID, err := p.root(ctx)
	if err != nil {
		return nil, err
	}

	if pathcache.IsRoot(path) {
		return p.InfoID(ctx, rootID)
	}

	parentPath, name := pathcache.Split(path)

	parentID, err := p.parentID(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	if parentID == "" {
		p.uncache(path)

		return nil, nil //nolint:nilnil // absent
	}

	f, err := p.findChild(ctx, parentID, name, parentID == rootID)
	if err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			if !pathcache.IsRoot(parentPath) {
				p.uncache(parentPath)
			}

			return nil, nil //nolint:nilnil // parent vanished
		}

		return nil, err
	}

	if f == nil {
		return p.recheckCached(ctx, path, parentID, name)
	}

	actual, ok := pathcache.JoinName(parentPath, f.Name)
	if !ok {
		p.logger.Warn("object name has no path form, not caching",
			slog.String("file_id", f.ID),
			slog.String("name", f.Name),
		)

		info := toInfo(f, "", p.currentRoot())

		return &info, nil
	}

	if !pathcache.Equal(actual, path) {
		p.cache.RemoveExact(path)
	}

	p.cache.Set(actual, f.ID)
	p.updateCacheGauge()

	info := toInfo(f, actual, p.currentRoot())

	return &info, nil
}

// findChild lists parentID's children named name and returns the first
// live one, or nil.
func (p *Provider) findChild(ctx context.Context, parentID, name string, atRoot bool) (*drive.File, error) {
	q := drive.ListQuery{ParentID: parentID, Name: name, SharedWithMe: atRoot}

	for {
		page, err := call(ctx, p, "files.list", func(ctx context.Context) (*drive.FileList, error) {
			return p.api.ListFiles(ctx, q)
		})
		if err != nil {
			return nil, err
		}

		for i := range page.Files {
			if !page.Files[i].Trashed {
				return &page.Files[i], nil
			}
		}

		if page.NextPageToken == "" {
			return nil, nil //nolint:nilnil // no match
		}

		q.PageToken = page.NextPageToken
	}
}

// recheckCached handles a listing that came back empty. The service
// sometimes misreports not-found for objects it just created, so a cached
// id is trusted if it still verifies live under the same parent and name.
// Otherwise the path and its descendants are uncached.
func (p *Provider) recheckCached(ctx context.Context, path, parentID, name string) (*ObjectInfo, error) {
	cachedID, ok := p.cache.Get(path)
	if ok {
		f, err := p.fileByID(ctx, cachedID)
		if err != nil {
			return nil, err
		}

		if f != nil && pathcache.Equal(f.Name, name) && slices.Contains(resolveParents(f, p.currentRoot()), parentID) {
			p.logger.Warn("drive reported not found for a path that exists",
				slog.String("path", path),
				slog.String("file_id", cachedID),
			)

			info := toInfo(f, path, p.currentRoot())

			return &info, nil
		}
	}

	p.uncache(path)

	return nil, nil //nolint:nilnil // absent
}

// parentID returns the id of the folder at parentPath, consulting the
// cache first. It returns "" when the path does not exist or is not a
// folder.
func (p *Provider) parentID(ctx context.Context, parentPath string) (string, error) {
	if id, ok := p.cache.Get(parentPath); ok {
		p.metrics.RecordCacheLookup(true)

		return id, nil
	}

	p.metrics.RecordCacheLookup(false)

	info, err := p.InfoPath(ctx, parentPath)
	if err != nil {
		return "", err
	}

	if info == nil || info.Type != TypeDirectory {
		return "", nil
	}

	return info.ID, nil
}

// InfoID returns the live object with the given id and its path, which may
// be empty when the ancestor chain cannot be resolved. Trashed and deleted
// objects yield (nil, nil).
func (p *Provider) InfoID(ctx context.Context, id string) (*ObjectInfo, error) {
	f, err := p.fileByID(ctx, id)
	if err != nil || f == nil {
		return nil, err
	}

	path, err := p.pathForID(ctx, f.ID, f, 0)
	if err != nil {
		return nil, err
	}

	info := toInfo(f, path, p.currentRoot())

	return &info, nil
}

// fileByID fetches a live record. A not-found on the root id re-resolves
// the root once, since the cached root id is the only id that may go stale
// while the account stays the same.
func (p *Provider) fileByID(ctx context.Context, id string) (*drive.File, error) {
	f, err := call(ctx, p, "files.get", func(ctx context.Context) (*drive.File, error) {
		return p.api.GetFile(ctx, id)
	})

	if errors.Is(err, drive.ErrNotFound) {
		if id != "" && id == p.currentRoot() {
			newRoot, rootErr := p.refreshRoot(ctx, id)
			if rootErr != nil {
				return nil, rootErr
			}

			if newRoot != id {
				return p.fileByID(ctx, newRoot)
			}
		}

		return nil, nil //nolint:nilnil // absent
	}

	if err != nil {
		return nil, err
	}

	if f.Trashed {
		return nil, nil //nolint:nilnil // trashed is absent
	}

	return f, nil
}

// pathForID resolves id to a path: live cache, trashed cache, then a walk
// up the primary parents. f is the record for id when the caller already
// has it. It returns "" when no ancestor chain reaches the root.
func (p *Provider) pathForID(ctx context.Context, id string, f *drive.File, depth int) (string, error) {
	rootID := p.currentRoot()
	if id == rootID {
		p.cache.Set(pathcache.Root, id)

		return pathcache.Root, nil
	}

	if paths := p.cache.PathsForID(id); len(paths) > 0 {
		p.metrics.RecordCacheLookup(true)

		return paths[0], nil
	}

	if paths := p.cache.TrashedPathsForID(id); len(paths) > 0 {
		p.metrics.RecordCacheLookup(true)

		return paths[0], nil
	}

	p.metrics.RecordCacheLookup(false)

	if depth >= maxPathDepth {
		p.logger.Warn("parent chain too deep, path unknown", slog.String("file_id", id))

		return "", nil
	}

	if f == nil {
		var err error

		f, err = p.fileByID(ctx, id)
		if err != nil || f == nil {
			return "", err
		}
	}

	parents := resolveParents(f, rootID)
	if len(parents) == 0 || !pathcache.ValidName(f.Name) {
		return "", nil
	}

	parentPath, err := p.pathForID(ctx, parents[0], nil, depth+1)
	if err != nil || parentPath == "" {
		return "", err
	}

	path, _ := pathcache.JoinName(parentPath, f.Name)
	p.cache.Set(path, id)
	p.updateCacheGauge()

	return path, nil
}

// ListChildren yields the live children of the folder id, one page per
// transport call. Listing a folder that no longer exists yields
// drive.ErrNotFound; an existing empty folder yields nothing. Children
// whose primary parent is id are cached when id's own path is known.
func (p *Provider) ListChildren(ctx context.Context, id string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		rootID, err := p.root(ctx)
		if err != nil {
			yield(ObjectInfo{}, err)
			return
		}

		var parentPath string

		if id == rootID {
			parentPath = pathcache.Root
		} else if paths := p.cache.PathsForID(id); len(paths) > 0 {
			parentPath = paths[0]
		}

		q := drive.ListQuery{ParentID: id, SharedWithMe: id == rootID}
		sawAny := false

		for {
			page, err := call(ctx, p, "files.list", func(ctx context.Context) (*drive.FileList, error) {
				return p.api.ListFiles(ctx, q)
			})
			if err != nil {
				yield(ObjectInfo{}, err)
				return
			}

			for i := range page.Files {
				f := &page.Files[i]
				if f.ID == id {
					continue
				}

				sawAny = true

				if f.Trashed {
					p.dropID(f.ID)

					continue
				}

				info := toInfo(f, "", rootID)

				if parentPath != "" && len(info.ParentIDs) > 0 && info.ParentIDs[0] == id {
					if child, ok := pathcache.JoinName(parentPath, f.Name); ok {
						info.Path = child
						p.cache.Set(child, f.ID)
					}
				}

				if !yield(info, nil) {
					p.updateCacheGauge()
					return
				}
			}

			if page.NextPageToken == "" {
				break
			}

			q.PageToken = page.NextPageToken
		}

		p.updateCacheGauge()

		if sawAny {
			return
		}

		f, err := p.fileByID(ctx, id)
		if err != nil {
			yield(ObjectInfo{}, err)
			return
		}

		if f == nil {
			yield(ObjectInfo{}, fmt.Errorf("provider: listing %s: %w", id, drive.ErrNotFound))
		}
	}
}

// ExistsPath reports whether an object lives at path.
func (p *Provider) ExistsPath(ctx context.Context, path string) (bool, error) {
	info, err := p.InfoPath(ctx, path)

	return info != nil, err
}

// ExistsID reports whether a live object has the given id.
func (p *Provider) ExistsID(ctx context.Context, id string) (bool, error) {
	f, err := p.fileByID(ctx, id)

	return f != nil, err
}

// uncache drops path and its cached descendants.
func (p *Provider) uncache(path string) {
	if removed := p.cache.Remove(path); len(removed) > 0 {
		p.logger.Debug("uncached paths", slog.String("path", path), slog.Int("count", len(removed)))
		p.updateCacheGauge()
	}
}

// dropID uncaches every live path mapping to id, with descendants.
func (p *Provider) dropID(id string) {
	for _, path := range p.cache.PathsForID(id) {
		p.uncache(path)
	}
}
