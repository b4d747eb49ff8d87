package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/skyhub/skyhub-go/internal/errors"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600
)

// LocalTarget stores analysis products in a directory on the local disk.
type LocalTarget struct {
	basePath string
}

// NewLocalTarget creates a local target rooted at folder. A "path" key in
// the target settings overrides the folder.
func NewLocalTarget(folder string, settings map[string]any) (*LocalTarget, error) {
	if p, ok := settings["path"].(string); ok && p != "" {
		folder = p
	}
	if folder == "" {
		return nil, errors.Newf("local: archive folder is required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("folder", folder).
			Build()
	}
	if err := os.MkdirAll(abs, dirPermissions); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("folder", abs).
			Build()
	}

	return &LocalTarget{basePath: abs}, nil
}

func (t *LocalTarget) Name() string { return "local" }

// Store writes atomically: the content lands in a temp file first and is
// renamed over the target so readers never observe a partial file.
func (t *LocalTarget) Store(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	targetPath := filepath.Join(t.basePath, name)
	tempFile, err := os.CreateTemp(t.basePath, ".tmp-*")
	if err != nil {
		return fileError(err, "create temp file", targetPath)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(filePermissions); err != nil {
		return fileError(err, "set permissions", tempPath)
	}
	if _, err := io.Copy(tempFile, r); err != nil {
		return fileError(err, "write", tempPath)
	}
	if err := tempFile.Sync(); err != nil {
		return fileError(err, "sync", tempPath)
	}
	if err := tempFile.Close(); err != nil {
		return fileError(err, "close", tempPath)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fileError(err, "rename", targetPath)
	}
	success = true
	return nil
}

func (t *LocalTarget) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(t.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("archived file %s not found", name).
				Component(componentName).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, fileError(err, "open", name)
	}
	return f, nil
}

func (t *LocalTarget) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(t.basePath, name)); err != nil && !os.IsNotExist(err) {
		return fileError(err, "delete", name)
	}
	return nil
}

// Validate checks the base folder is writable.
func (t *LocalTarget) Validate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := os.CreateTemp(t.basePath, ".write_test-*")
	if err != nil {
		return fileError(err, "write probe", t.basePath)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}
