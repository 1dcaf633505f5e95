package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/pathcache"
	"github.com/tonimelisma/gdrive-go/internal/provider"
)

// remoteFS is the part of the provider the file commands use.
type remoteFS interface {
	InfoPath(ctx context.Context, path string) (*provider.ObjectInfo, error)
	ListChildren(ctx context.Context, id string) iter.Seq2[provider.ObjectInfo, error]
	Mkdir(ctx context.Context, path string) (string, error)
	Create(ctx context.Context, path string, r io.Reader, meta *provider.Metadata) (*provider.ObjectInfo, error)
	Upload(ctx context.Context, id string, r io.Reader, meta *provider.Metadata) (*provider.ObjectInfo, error)
	Download(ctx context.Context, id string, w io.Writer) (int64, error)
	Rename(ctx context.Context, id, path string) error
	Delete(ctx context.Context, id string) error
}

var _ remoteFS = (*provider.Provider)(nil)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			remotePath := "/"
			if len(args) > 0 {
				remotePath = args[0]
			}

			return runLs(ctx, cc, fs, remotePath)
		}),
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			return runStat(ctx, cc, fs, args[0])
		}),
	}
}

func newMkdirCmd() *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			return runMkdir(ctx, cc, fs, args[0], parents)
		}),
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent folders")

	return cmd
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file, replacing the content of an existing one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			remotePath := ""
			if len(args) > 1 {
				remotePath = args[1]
			}

			return runPut(ctx, cc, fs, args[0], remotePath)
		}),
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			localPath := ""
			if len(args) > 1 {
				localPath = args[1]
			}

			return runGet(ctx, cc, fs, args[0], localPath)
		}),
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move or rename a file or folder",
		Long: `Move or rename a file or folder. When the destination is an existing
folder the source is moved into it. A folder may replace an empty folder;
a file never replaces another object.`,
		Args: cobra.ExactArgs(2), //nolint:mnd // source and destination
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			return runMv(ctx, cc, fs, args[0], args[1])
		}),
	}
}

func newRmCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Permanently delete a file or folder",
		Long: `Permanently delete a file or folder. Items are not moved to the Drive
trash. Folders must be empty unless --recursive (-r) is given.

Shared items you may not delete are removed from their folders instead.`,
		Args: cobra.ExactArgs(1),
		RunE: withRemote(func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error {
			return runRm(ctx, cc, fs, args[0], recursive)
		}),
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete folders and their contents")

	return cmd
}

// remoteRunFunc is the body of a command that talks to Drive.
type remoteRunFunc func(ctx context.Context, cc *CLIContext, fs remoteFS, args []string) error

// withRemote connects a provider for the duration of one command.
func withRemote(run remoteRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cc := mustCLIContext(ctx)

		p, err := openProvider(ctx, cc, nil)
		if err != nil {
			return err
		}

		defer p.Disconnect()

		return run(ctx, cc, p, args)
	}
}

// mustExist resolves path and turns "nothing there" into drive.ErrNotFound.
func mustExist(ctx context.Context, fs remoteFS, path string) (*provider.ObjectInfo, error) {
	info, err := fs.InfoPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", path, err)
	}

	if info == nil {
		return nil, fmt.Errorf("%q: %w", path, drive.ErrNotFound)
	}

	return info, nil
}

func collectChildren(ctx context.Context, fs remoteFS, id string) ([]provider.ObjectInfo, error) {
	var items []provider.ObjectInfo

	for item, err := range fs.ListChildren(ctx, id) {
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}

// itemJSON is the JSON output schema for one object.
type itemJSON struct {
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	Hash       string `json:"md5,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Shared     bool   `json:"shared,omitempty"`
	ReadOnly   bool   `json:"read_only,omitempty"`
}

func toItemJSON(info *provider.ObjectInfo) itemJSON {
	return itemJSON{
		Name:       info.Name,
		Path:       info.Path,
		ID:         info.ID,
		Type:       info.Type.String(),
		Size:       info.Size,
		ModifiedAt: info.ModTime.UTC().Format(time.RFC3339),
		Hash:       info.Hash,
		MimeType:   info.MimeType,
		Shared:     info.Shared,
		ReadOnly:   info.ReadOnly,
	}
}

func runLs(ctx context.Context, cc *CLIContext, fs remoteFS, remotePath string) error {
	cc.Logger.Debug("ls", slog.String("path", remotePath))

	info, err := mustExist(ctx, fs, remotePath)
	if err != nil {
		return err
	}

	items := []provider.ObjectInfo{*info}

	if info.Type == provider.TypeDirectory {
		items, err = collectChildren(ctx, fs, info.ID)
		if err != nil {
			return fmt.Errorf("listing %q: %w", remotePath, err)
		}
	}

	sortItems(items)

	if cc.Flags.JSON {
		out := make([]itemJSON, 0, len(items))
		for i := range items {
			out = append(out, toItemJSON(&items[i]))
		}

		return printJSON(cc.Out, out)
	}

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name, size := items[i].Name, formatSize(items[i].Size)
		if items[i].Type == provider.TypeDirectory {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(items[i].ModTime)})
	}

	printTable(cc.Out, headers, rows)

	return nil
}

// sortItems orders folders first, then by name.
func sortItems(items []provider.ObjectInfo) {
	slices.SortFunc(items, func(a, b provider.ObjectInfo) int {
		aDir, bDir := a.Type == provider.TypeDirectory, b.Type == provider.TypeDirectory
		if aDir != bDir {
			if aDir {
				return -1
			}

			return 1
		}

		return strings.Compare(a.Name, b.Name)
	})
}

func runStat(ctx context.Context, cc *CLIContext, fs remoteFS, remotePath string) error {
	info, err := mustExist(ctx, fs, remotePath)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, toItemJSON(info))
	}

	w := cc.Out
	fmt.Fprintf(w, "Name:     %s\n", info.Name)
	fmt.Fprintf(w, "Path:     %s\n", info.Path)
	fmt.Fprintf(w, "ID:       %s\n", info.ID)
	fmt.Fprintf(w, "Type:     %s\n", info.Type)
	fmt.Fprintf(w, "Size:     %s (%d bytes)\n", formatSize(info.Size), info.Size)
	fmt.Fprintf(w, "Modified: %s\n", info.ModTime.Format(time.RFC3339))

	if info.MimeType != "" {
		fmt.Fprintf(w, "MIME:     %s\n", info.MimeType)
	}

	if info.Hash != "" {
		fmt.Fprintf(w, "MD5:      %s\n", info.Hash)
	}

	if len(info.ParentIDs) > 0 {
		fmt.Fprintf(w, "Parents:  %s\n", strings.Join(info.ParentIDs, ", "))
	}

	if info.Shared {
		fmt.Fprintf(w, "Shared:   yes\n")
	}

	if info.ReadOnly {
		fmt.Fprintf(w, "Access:   read-only\n")
	}

	return nil
}

func runMkdir(ctx context.Context, cc *CLIContext, fs remoteFS, remotePath string, parents bool) error {
	remotePath = pathcache.Clean(remotePath)

	if !parents {
		id, err := fs.Mkdir(ctx, remotePath)
		if err != nil {
			return fmt.Errorf("creating folder %q: %w", remotePath, err)
		}

		cc.Logger.Debug("mkdir", slog.String("path", remotePath), slog.String("file_id", id))
		cc.Statusf("Created %s\n", remotePath)

		return nil
	}

	current := pathcache.Root

	for _, part := range strings.Split(strings.TrimPrefix(remotePath, "/"), "/") {
		if part == "" {
			continue
		}

		current = pathcache.Join(current, part)

		if _, err := fs.Mkdir(ctx, current); err != nil {
			return fmt.Errorf("creating folder %q: %w", current, err)
		}
	}

	cc.Statusf("Created %s\n", remotePath)

	return nil
}

// putTarget picks the remote path for an upload: the local name in root
// by default, or inside remotePath when that is a folder.
func putTarget(ctx context.Context, fs remoteFS, localPath, remotePath string) (string, *provider.ObjectInfo, error) {
	name := filepath.Base(localPath)

	if remotePath == "" {
		remotePath = pathcache.Join(pathcache.Root, name)
	}

	existing, err := fs.InfoPath(ctx, remotePath)
	if err != nil {
		return "", nil, err
	}

	if existing != nil && existing.Type == provider.TypeDirectory {
		remotePath = pathcache.Join(remotePath, name)

		existing, err = fs.InfoPath(ctx, remotePath)
		if err != nil {
			return "", nil, err
		}
	}

	return pathcache.Clean(remotePath), existing, nil
}

func runPut(ctx context.Context, cc *CLIContext, fs remoteFS, localPath, remotePath string) error {
	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", localPath)
	}

	target, existing, err := putTarget(ctx, fs, localPath, remotePath)
	if err != nil {
		return fmt.Errorf("resolving upload target: %w", err)
	}

	cc.Logger.Debug("put",
		slog.String("local_path", localPath),
		slog.String("remote_path", target),
		slog.Int64("size", fi.Size()),
	)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	meta := &provider.Metadata{ModTime: fi.ModTime()}

	var info *provider.ObjectInfo
	if existing != nil {
		info, err = fs.Upload(ctx, existing.ID, f, meta)
	} else {
		info, err = fs.Create(ctx, target, f, meta)
	}

	if err != nil {
		return fmt.Errorf("uploading %q: %w", localPath, err)
	}

	if err := verifyHash(localPath, info.Hash); err != nil {
		return fmt.Errorf("verifying upload of %q: %w", target, err)
	}

	cc.Statusf("Uploaded %s (%s)\n", target, formatSize(fi.Size()))

	return nil
}

// errHashMismatch marks content whose md5 differs from what Drive reports.
var errHashMismatch = errors.New("hash mismatch")

// verifyHash compares the md5 of the local file with the remote checksum.
// Drive omits checksums for some content, so an empty one is accepted.
func verifyHash(localPath, remoteHash string) error {
	if remoteHash == "" {
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	localHash, err := provider.HashData(f)
	if err != nil {
		return err
	}

	if localHash != remoteHash {
		return fmt.Errorf("%w: local %s, remote %s", errHashMismatch, localHash, remoteHash)
	}

	return nil
}

func runGet(ctx context.Context, cc *CLIContext, fs remoteFS, remotePath, localPath string) error {
	info, err := mustExist(ctx, fs, remotePath)
	if err != nil {
		return err
	}

	if info.Type == provider.TypeDirectory {
		return fmt.Errorf("%q is a folder, not a file", remotePath)
	}

	if localPath == "" {
		localPath = info.Name
	}

	if st, statErr := os.Stat(localPath); statErr == nil && st.IsDir() {
		localPath = filepath.Join(localPath, info.Name)
	}

	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("creating partial file for download: %w", err)
	}

	n, dlErr := fs.Download(ctx, info.ID, f)

	if closeErr := f.Close(); dlErr == nil {
		dlErr = closeErr
	}

	if dlErr != nil {
		os.Remove(partialPath)

		return fmt.Errorf("downloading %q: %w", remotePath, dlErr)
	}

	if err := verifyHash(partialPath, info.Hash); err != nil {
		os.Remove(partialPath)

		return fmt.Errorf("verifying download of %q: %w", remotePath, err)
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, localPath); err != nil {
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	if !info.ModTime.IsZero() {
		if err := os.Chtimes(localPath, info.ModTime, info.ModTime); err != nil {
			cc.Logger.Warn("could not set modification time",
				slog.String("path", localPath),
				slog.String("error", err.Error()),
			)
		}
	}

	cc.Logger.Debug("download complete", slog.String("local_path", localPath), slog.Int64("bytes", n))
	cc.Statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

	return nil
}

func runMv(ctx context.Context, cc *CLIContext, fs remoteFS, src, dst string) error {
	info, err := mustExist(ctx, fs, src)
	if err != nil {
		return err
	}

	target := pathcache.Clean(dst)

	existing, err := fs.InfoPath(ctx, target)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", dst, err)
	}

	// Moving into a folder, unless the destination is the source itself
	// under another case.
	if existing != nil && existing.Type == provider.TypeDirectory && existing.ID != info.ID {
		target = pathcache.Join(target, pathcache.Base(pathcache.Clean(src)))
	}

	if err := fs.Rename(ctx, info.ID, target); err != nil {
		return fmt.Errorf("moving %q to %q: %w", src, target, err)
	}

	cc.Statusf("Moved %s -> %s\n", pathcache.Clean(src), target)

	return nil
}

func runRm(ctx context.Context, cc *CLIContext, fs remoteFS, remotePath string, recursive bool) error {
	info, err := mustExist(ctx, fs, remotePath)
	if err != nil {
		return err
	}

	if recursive && info.Type == provider.TypeDirectory {
		err = removeTree(ctx, cc, fs, info)
	} else {
		err = fs.Delete(ctx, info.ID)
	}

	if err != nil {
		if !recursive && errors.Is(err, drive.ErrExists) && info.Type == provider.TypeDirectory {
			return fmt.Errorf("deleting %q: folder is not empty (use --recursive): %w", remotePath, err)
		}

		return fmt.Errorf("deleting %q: %w", remotePath, err)
	}

	cc.Statusf("Deleted %s\n", pathcache.Clean(remotePath))

	return nil
}

// removeTree deletes the contents of a folder depth-first, then the folder.
func removeTree(ctx context.Context, cc *CLIContext, fs remoteFS, dir *provider.ObjectInfo) error {
	children, err := collectChildren(ctx, fs, dir.ID)
	if err != nil {
		return err
	}

	for i := range children {
		child := &children[i]

		if child.Type == provider.TypeDirectory {
			if err := removeTree(ctx, cc, fs, child); err != nil {
				return err
			}

			continue
		}

		if err := fs.Delete(ctx, child.ID); err != nil {
			return err
		}

		cc.Logger.Debug("deleted", slog.String("file_id", child.ID), slog.String("name", child.Name))
	}

	return fs.Delete(ctx, dir.ID)
}
