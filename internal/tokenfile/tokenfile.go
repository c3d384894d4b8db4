// Package tokenfile reads and writes the OAuth2 token file together with the
// account details cached at login (current division, user). It is a leaf
// package shared by the CLI and internal/exact.
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

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// Meta is what login learned about the authenticated user.
type Meta struct {
	UserID          string `json:"user_id,omitempty"`
	UserName        string `json:"user_name,omitempty"`
	FullName        string `json:"full_name,omitempty"`
	CurrentDivision int    `json:"current_division,omitempty"`
}

// File is the on-disk format.
type File struct {
	Token *oauth2.Token `json:"token"`
	Meta  Meta          `json:"meta"`
}

// Load reads a token file. It returns (nil, nil) when the file does not exist.
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

	if tf.Token.AccessToken == "" && tf.Token.RefreshToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has empty credentials (re-login required)", path)
	}

	return &tf, nil
}

// Save writes tf atomically (temp file + rename) with 0600 permissions.
// Token values are never logged.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// SaveToken replaces the token and keeps whatever metadata is on disk. A
// missing or unreadable file is replaced with empty metadata.
func SaveToken(path string, tok *oauth2.Token) error {
	tf, err := Load(path)
	if err != nil || tf == nil {
		tf = &File{}
	}

	tf.Token = tok

	return Save(path, tf)
}

// ReadMeta returns the cached metadata, or a zero Meta if the file does not
// exist.
func ReadMeta(path string) (Meta, error) {
	tf, err := Load(path)
	if err != nil || tf == nil {
		return Meta{}, err
	}

	return tf.Meta, nil
}

// UpdateMeta applies fn to the stored metadata and saves the file. The file
// must already hold a token.
func UpdateMeta(path string, fn func(*Meta)) error {
	tf, err := Load(path)
	if err != nil {
		return fmt.Errorf("tokenfile: reading token for metadata update: %w", err)
	}

	if tf == nil {
		return fmt.Errorf("tokenfile: no token file at %s", path)
	}

	fn(&tf.Meta)

	return Save(path, tf)
}
