// Package archive persists analysis product files (the `analysis_<id>.nc`
// results written back by external analysis services) to a configured
// storage target: a local folder, an FTP server, or an SFTP server.
//
// File names are validated before they reach any target so a hostile
// webhook cannot traverse outside the archive folder.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/logging"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

const componentName = "archive"

// MaxPathLength bounds any path handed to a target.
const MaxPathLength = 255

var (
	// file names may carry an extension dot
	validFileName = regexp.MustCompile(`^[a-zA-Z0-9_.+-]*$`)
	// folder names may not
	validFolderName = regexp.MustCompile(`^[a-zA-Z0-9_+-]*$`)
)

var (
	serviceLogger *slog.Logger
	closeLogger   func() error
)

func init() {
	var err error
	serviceLogger, closeLogger, err = logging.NewFileLogger("logs/archive.log", componentName, slog.LevelInfo)
	if err != nil || serviceLogger == nil {
		serviceLogger = logging.ForService(componentName)
		closeLogger = func() error { return nil }
	}
}

// CloseLogger releases the package log file.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

// Target is a storage backend for archived analysis products.
// Implementations must be safe for concurrent use.
type Target interface {
	// Name identifies the target type in logs and metrics ("local", "ftp", "sftp").
	Name() string

	// Store writes the named file from the reader, replacing any previous content.
	Store(ctx context.Context, name string, r io.Reader) error

	// Retrieve opens the named file. The caller closes the returned reader.
	Retrieve(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the named file. Deleting a missing file is not an error.
	Delete(ctx context.Context, name string) error

	// Validate checks connectivity and write permission.
	Validate(ctx context.Context) error
}

// Manager fronts a Target with name validation and metrics.
type Manager struct {
	target  Target
	metrics *metrics.ArchiveMetrics
}

// New builds the archive manager for the configured target type.
func New(settings *conf.ArchiveSettings, m *metrics.ArchiveMetrics) (*Manager, error) {
	if settings == nil || !settings.Enabled {
		return nil, errors.Newf("archive is not enabled").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	var (
		target Target
		err    error
	)
	switch settings.Target.Type {
	case "", "local":
		target, err = NewLocalTarget(settings.Folder, settings.Target.Settings)
	case "ftp":
		target, err = NewFTPTarget(settings.Target.Settings)
	case "sftp":
		target, err = NewSFTPTarget(settings.Target.Settings)
	default:
		return nil, errors.Newf("unknown archive target type: %s", settings.Target.Type).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	serviceLogger.Info("archive target configured", "type", target.Name())
	return &Manager{target: target, metrics: m}, nil
}

// NewWithTarget wraps an existing target. Used by tests.
func NewWithTarget(target Target, m *metrics.ArchiveMetrics) *Manager {
	return &Manager{target: target, metrics: m}
}

// TargetName reports the underlying target type.
func (am *Manager) TargetName() string {
	return am.target.Name()
}

// AnalysisFileName is the canonical archive name for an analysis result file.
func AnalysisFileName(analysisID uint) string {
	return fmt.Sprintf("analysis_%d.nc", analysisID)
}

// ValidateFileName rejects names that could escape the archive folder or
// break a remote target's path handling.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return validationError("file name cannot be empty", "empty")
	case len(name) > MaxPathLength:
		return validationError(fmt.Sprintf("file name exceeds %d characters", MaxPathLength), "too_long")
	case !validFileName.MatchString(name):
		return validationError(fmt.Sprintf("file name %q contains invalid characters", name), "invalid_characters")
	}
	return nil
}

// ValidateFolderName rejects folder names with path separators or dots.
func ValidateFolderName(name string) error {
	switch {
	case len(name) > MaxPathLength:
		return validationError(fmt.Sprintf("folder name exceeds %d characters", MaxPathLength), "too_long")
	case !validFolderName.MatchString(name):
		return validationError(fmt.Sprintf("folder name %q contains invalid characters", name), "invalid_characters")
	}
	return nil
}

func validationError(msg, reason string) error {
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryValidation).
		Context("reason", reason).
		Build()
}

// Store validates the name and writes the file to the target.
func (am *Manager) Store(ctx context.Context, name string, r io.Reader) error {
	if err := ValidateFileName(name); err != nil {
		am.recordValidationFailure(err)
		return err
	}

	counter := &countingReader{r: r}
	start := time.Now()
	err := am.target.Store(ctx, name, counter)
	am.recordUpload(err, time.Since(start), counter.n)
	if err != nil {
		serviceLogger.Error("archive store failed",
			"target", am.target.Name(), "name", name, "error", err)
		return err
	}

	serviceLogger.Info("archived analysis product",
		"target", am.target.Name(), "name", name, "bytes", counter.n)
	return nil
}

// Retrieve validates the name and opens the file from the target.
func (am *Manager) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ValidateFileName(name); err != nil {
		am.recordValidationFailure(err)
		return nil, err
	}
	return am.target.Retrieve(ctx, name)
}

// Delete validates the name and removes the file from the target.
func (am *Manager) Delete(ctx context.Context, name string) error {
	if err := ValidateFileName(name); err != nil {
		am.recordValidationFailure(err)
		return err
	}
	if err := am.target.Delete(ctx, name); err != nil {
		serviceLogger.Error("archive delete failed",
			"target", am.target.Name(), "name", name, "error", err)
		return err
	}
	return nil
}

// Validate checks the target is reachable and writable.
func (am *Manager) Validate(ctx context.Context) error {
	return am.target.Validate(ctx)
}

func (am *Manager) recordUpload(err error, elapsed time.Duration, size int64) {
	if am.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	am.metrics.RecordUpload(am.target.Name(), status)
	am.metrics.RecordUploadDuration(am.target.Name(), elapsed.Seconds())
	if err == nil {
		am.metrics.RecordUploadSize(am.target.Name(), size)
	}
}

func (am *Manager) recordValidationFailure(err error) {
	if am.metrics == nil {
		return
	}
	reason := "invalid"
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		if r, ok := enhanced.GetContext()["reason"].(string); ok {
			reason = r
		}
	}
	am.metrics.RecordValidationFailure(reason)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
