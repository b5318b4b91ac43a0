// Package storage_manager provides the file storage used for memory
// exports. It supports a local directory and S3, and hands out
// prefix-scoped providers so callers stay in their own namespace.
package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lewisedginton/chat_memory/internal/model"
)

// FileProvider stores whole files under slash separated relative paths.
// Read returns an error wrapping model.ErrNotFound for missing files.
type FileProvider interface {
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates or replaces the file at path.
	Write(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes a file. Missing files are not an error.
	Delete(ctx context.Context, path string) error
	// List returns the paths under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// cleanPath rejects absolute paths and paths that climb out of the root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the storage root", p)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// listPrefix cleans a List prefix, keeping a trailing slash so that
// "exports/" does not also match "exports-old/".
func listPrefix(prefix string) (string, error) {
	cleaned, err := cleanPath(prefix)
	if err != nil || cleaned == "" {
		return cleaned, err
	}
	if strings.HasSuffix(prefix, "/") {
		cleaned += "/"
	}
	return cleaned, nil
}

// LocalFileProvider implements FileProvider for local filesystem.
type LocalFileProvider struct {
	baseDir string
}

// NewLocalFileProvider creates a new local file provider.
func NewLocalFileProvider(baseDir string) *LocalFileProvider {
	return &LocalFileProvider{
		baseDir: baseDir,
	}
}

func (p *LocalFileProvider) resolve(name string) (string, error) {
	cleaned, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(cleaned)), nil
}

// Read reads a file from the local filesystem.
func (p *LocalFileProvider) Read(ctx context.Context, name string) ([]byte, error) {
	full, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full) //nolint:gosec // G304: Path is confined to baseDir by resolve
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", name, model.ErrNotFound)
	}
	return data, err
}

// Write writes to a temporary file next to the target and renames it
// into place, so readers never see a partial file.
func (p *LocalFileProvider) Write(ctx context.Context, name string, data []byte) error {
	full, err := p.resolve(name)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), full)
}

// Exists checks if a file exists on the local filesystem.
func (p *LocalFileProvider) Exists(ctx context.Context, name string) (bool, error) {
	full, err := p.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes a file from the local filesystem.
func (p *LocalFileProvider) Delete(ctx context.Context, name string) error {
	full, err := p.resolve(name)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns files whose relative path starts with prefix. Temporary
// files from in-flight writes are skipped.
func (p *LocalFileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	cleaned, err := listPrefix(prefix)
	if err != nil {
		return nil, err
	}

	result := []string{}
	err = filepath.WalkDir(p.baseDir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, full)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, cleaned) {
			result = append(result, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(result)
	return result, nil
}

// S3FileProvider implements FileProvider for AWS S3.
type S3FileProvider struct {
	bucket   string
	prefix   string
	s3Client S3Client
}

// NewS3FileProvider creates a new S3 file provider.
func NewS3FileProvider(bucket, prefix string, s3Client S3Client) *S3FileProvider {
	return &S3FileProvider{
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		s3Client: s3Client,
	}
}

func (p *S3FileProvider) Read(ctx context.Context, name string) ([]byte, error) {
	key, err := p.getKey(name)
	if err != nil {
		return nil, err
	}
	return p.s3Client.GetObject(ctx, p.bucket, key)
}

func (p *S3FileProvider) Write(ctx context.Context, name string, data []byte) error {
	key, err := p.getKey(name)
	if err != nil {
		return err
	}
	return p.s3Client.PutObject(ctx, p.bucket, key, data)
}

// Exists returns (false, nil) only when S3 reports the object missing.
func (p *S3FileProvider) Exists(ctx context.Context, name string) (bool, error) {
	key, err := p.getKey(name)
	if err != nil {
		return false, err
	}
	err = p.s3Client.HeadObject(ctx, p.bucket, key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *S3FileProvider) Delete(ctx context.Context, name string) error {
	key, err := p.getKey(name)
	if err != nil {
		return err
	}
	return p.s3Client.DeleteObject(ctx, p.bucket, key)
}

func (p *S3FileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	cleaned, err := listPrefix(prefix)
	if err != nil {
		return nil, err
	}
	s3Prefix := cleaned
	if p.prefix != "" {
		s3Prefix = p.prefix + "/" + cleaned
	}
	keys, err := p.s3Client.ListObjects(ctx, p.bucket, s3Prefix)
	if err != nil {
		return nil, err
	}

	root := ""
	if p.prefix != "" {
		root = p.prefix + "/"
	}
	result := []string{}
	for _, key := range keys {
		if rel, ok := strings.CutPrefix(key, root); ok && rel != "" {
			result = append(result, rel)
		}
	}
	sort.Strings(result)
	return result, nil
}

// getKey combines the bucket prefix with a cleaned relative path.
func (p *S3FileProvider) getKey(name string) (string, error) {
	cleaned, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	if p.prefix == "" {
		return cleaned, nil
	}
	if cleaned == "" {
		return p.prefix + "/", nil
	}
	return p.prefix + "/" + cleaned, nil
}

// PrefixedFileProvider scopes another provider to a namespace directory.
type PrefixedFileProvider struct {
	provider FileProvider
	prefix   string
}

// NewPrefixedFileProvider creates a new prefixed file provider.
func NewPrefixedFileProvider(provider FileProvider, prefix string) *PrefixedFileProvider {
	return &PrefixedFileProvider{
		provider: provider,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (p *PrefixedFileProvider) Read(ctx context.Context, name string) ([]byte, error) {
	full, err := p.prefixPath(name)
	if err != nil {
		return nil, err
	}
	return p.provider.Read(ctx, full)
}

func (p *PrefixedFileProvider) Write(ctx context.Context, name string, data []byte) error {
	full, err := p.prefixPath(name)
	if err != nil {
		return err
	}
	return p.provider.Write(ctx, full, data)
}

func (p *PrefixedFileProvider) Exists(ctx context.Context, name string) (bool, error) {
	full, err := p.prefixPath(name)
	if err != nil {
		return false, err
	}
	return p.provider.Exists(ctx, full)
}

func (p *PrefixedFileProvider) Delete(ctx context.Context, name string) error {
	full, err := p.prefixPath(name)
	if err != nil {
		return err
	}
	return p.provider.Delete(ctx, full)
}

// List strips the namespace from the returned paths.
func (p *PrefixedFileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	cleaned, err := listPrefix(prefix)
	if err != nil {
		return nil, err
	}
	if p.prefix == "" {
		return p.provider.List(ctx, cleaned)
	}

	root := p.prefix + "/"
	files, err := p.provider.List(ctx, root+cleaned)
	if err != nil {
		return nil, err
	}
	result := []string{}
	for _, file := range files {
		if rel, ok := strings.CutPrefix(file, root); ok {
			result = append(result, rel)
		}
	}
	return result, nil
}

// prefixPath cleans name before joining so it cannot climb out of the namespace.
func (p *PrefixedFileProvider) prefixPath(name string) (string, error) {
	cleaned, err := cleanPath(name)
	if err != nil || p.prefix == "" {
		return cleaned, err
	}
	return p.prefix + "/" + cleaned, nil
}
