package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// LoadError is returned when both the primary model and the backup
// checkpoint fail to load. It unwraps to the primary error, which is the
// root cause; the backup failure is kept for diagnostics.
type LoadError struct {
	Primary error
	Backup  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v (backup checkpoint also failed: %v)", e.Primary, e.Backup)
}

// Unwrap returns the primary error.
func (e *LoadError) Unwrap() error {
	return e.Primary
}

// Loader obtains a ready model with one fallback path.
type Loader struct {
	primary    Spec
	backupPath string
	open       Runtime
	logger     *slog.Logger
	stat       func(string) (fs.FileInfo, error)
}

// NewLoader creates a loader that opens primary with the named runtime and
// falls back to the checkpoint at backupPath. An empty backupPath disables
// the fallback.
func NewLoader(runtime string, primary Spec, backupPath string, logger *slog.Logger) (*Loader, error) {
	rt, err := LookupRuntime(runtime)
	if err != nil {
		return nil, err
	}
	return NewLoaderWithRuntime(rt, primary, backupPath, logger), nil
}

// NewLoaderWithRuntime creates a loader around an explicit runtime.
func NewLoaderWithRuntime(rt Runtime, primary Spec, backupPath string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		primary:    primary,
		backupPath: backupPath,
		open:       rt,
		logger:     logger.With("component", "model.loader"),
		stat:       os.Stat,
	}
}

// Load opens the primary model. If that fails and the backup checkpoint
// exists, the checkpoint is loaded instead. When no checkpoint exists the
// primary error is returned unchanged; when the checkpoint also fails a
// *LoadError wrapping the primary error is returned.
func (l *Loader) Load(ctx context.Context) (Model, error) {
	l.logger.Info("loading detection model", "path", l.primary.Path, "model_type", l.primary.ModelType)

	m, err := l.openSpec(ctx, l.primary)
	if err == nil {
		l.logger.Info("detection model loaded", "model_type", m.Type())
		return m, nil
	}
	primaryErr := err
	l.logger.Warn("primary model load failed", "error", primaryErr)

	if l.backupPath == "" {
		return nil, primaryErr
	}
	if _, err := l.stat(l.backupPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Info("no backup checkpoint", "path", l.backupPath)
		} else {
			l.logger.Warn("backup checkpoint not accessible", "path", l.backupPath, "error", err)
		}
		return nil, primaryErr
	}

	if err := ctx.Err(); err != nil {
		return nil, primaryErr
	}

	l.logger.Info("loading model from backup checkpoint", "path", l.backupPath)
	m, backupErr := l.loadBackup(ctx)
	if backupErr != nil {
		l.logger.Error("backup checkpoint load failed", "path", l.backupPath, "error", backupErr)
		return nil, &LoadError{Primary: primaryErr, Backup: backupErr}
	}

	l.logger.Info("detection model loaded from backup", "model_type", m.Type())
	return m, nil
}

func (l *Loader) loadBackup(ctx context.Context) (Model, error) {
	ckpt, err := LoadCheckpoint(l.backupPath)
	if err != nil {
		return nil, err
	}
	spec, err := ckpt.Spec(l.primary)
	if err != nil {
		return nil, &CheckpointError{Path: l.backupPath, Err: err}
	}
	return l.openSpec(ctx, spec)
}

func (l *Loader) openSpec(ctx context.Context, spec Spec) (Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return l.open(ctx, spec)
}
