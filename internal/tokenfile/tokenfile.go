// Package tokenfile persists a Google OAuth2 token together with the
// account it belongs to. It is a leaf package shared by the drive auth
// code and the CLI.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// Account identifies the Drive account a token was issued for. It is
// filled in after login from about.get and kept across refreshes.
type Account struct {
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	PermissionID string `json:"permission_id,omitempty"`
}

// File is the on-disk token format.
type File struct {
	Token   *oauth2.Token `json:"token"`
	Account Account       `json:"account"`
}

// Load reads a token file. It returns (nil, nil) when the file does not
// exist, so callers can tell "logged out" from a broken file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return &tf, nil
}

// Save writes tf atomically with owner-only permissions. Token values are
// never logged.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return fmt.Errorf("tokenfile: refusing to save %s without a token", path)
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	return writeAtomic(path, data)
}

// SaveToken replaces the token in the file at path, keeping the recorded
// account. A missing file is created with an empty account.
func SaveToken(path string, tok *oauth2.Token) error {
	tf, err := Load(path)
	if err != nil {
		return err
	}

	if tf == nil {
		tf = &File{}
	}

	tf.Token = tok

	return Save(path, tf)
}

// SetAccount records the account for an existing token file.
func SetAccount(path string, acct Account) error {
	tf, err := Load(path)
	if err != nil {
		return err
	}

	if tf == nil {
		return fmt.Errorf("tokenfile: no token file at %s", path)
	}

	tf.Account = acct

	return Save(path, tf)
}

// Remove deletes the token file. It reports whether a file was removed;
// a missing file is not an error.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}

// writeAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path, so readers never see a partial file.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmp.Chmod(FilePerms); err != nil {
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}
