package model

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-objdetect/internal/log"
)

func testSpec(path string) Spec {
	return Spec{
		Path:         path,
		Format:       FormatONNX,
		ModelType:    "yolov8n",
		InputWidth:   640,
		InputHeight:  640,
		NumClasses:   80,
		NMSThreshold: 0.45,
	}
}

// scriptedRuntime fails primary opens (Path set) and handles checkpoint
// opens (Data set) with backupErr.
type scriptedRuntime struct {
	primaryErr error
	backupErr  error
	specs      []Spec
}

func (r *scriptedRuntime) open(ctx context.Context, spec Spec) (Model, error) {
	r.specs = append(r.specs, spec)
	if len(spec.Data) == 0 {
		if r.primaryErr != nil {
			return nil, r.primaryErr
		}
		return &Mock{ModelType: "primary"}, nil
	}
	if r.backupErr != nil {
		return nil, r.backupErr
	}
	return &Mock{ModelType: "backup:" + spec.ModelType}, nil
}

func writeTestCheckpoint(t *testing.T, path string, payload []byte) {
	t.Helper()
	writeCheckpointManifest(t, path, Manifest{ModelType: "yolov8n-backup", InputWidth: 320, InputHeight: 320}, payload)
}

func writeCheckpointManifest(t *testing.T, path string, m Manifest, payload []byte) {
	t.Helper()
	var buf bytes.Buffer
	err := WriteCheckpoint(&buf, m, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_PrimarySucceeds(t *testing.T) {
	rt := &scriptedRuntime{}
	loader := NewLoaderWithRuntime(rt.open, testSpec("models/yolov8n.onnx"), "/nonexistent/backup.ckpt", log.Discard())

	m, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Type() != "primary" {
		t.Errorf("expected primary model, got %q", m.Type())
	}
	if len(rt.specs) != 1 {
		t.Errorf("expected one open attempt, got %d", len(rt.specs))
	}
}

func TestLoader_NoBackupReturnsOriginalError(t *testing.T) {
	primaryErr := errors.New("weights not cached")
	rt := &scriptedRuntime{primaryErr: primaryErr}
	backup := filepath.Join(t.TempDir(), "missing.ckpt")
	loader := NewLoaderWithRuntime(rt.open, testSpec("models/yolov8n.onnx"), backup, log.Discard())

	m, err := loader.Load(context.Background())
	if m != nil {
		t.Errorf("expected no model, got %v", m)
	}
	if err != primaryErr {
		t.Fatalf("expected the original error value unchanged, got %T: %v", err, err)
	}
	if len(rt.specs) != 1 {
		t.Errorf("backup must not be attempted, got %d opens", len(rt.specs))
	}
}

func TestLoader_BackupDisabled(t *testing.T) {
	primaryErr := errors.New("weights not cached")
	rt := &scriptedRuntime{primaryErr: primaryErr}
	loader := NewLoaderWithRuntime(rt.open, testSpec("models/yolov8n.onnx"), "", log.Discard())

	if _, err := loader.Load(context.Background()); err != primaryErr {
		t.Fatalf("expected original error, got %v", err)
	}
}

func TestLoader_BackupSucceeds(t *testing.T) {
	rt := &scriptedRuntime{primaryErr: errors.New("weights not cached")}
	backup := filepath.Join(t.TempDir(), "backup.ckpt")
	writeTestCheckpoint(t, backup, []byte("onnx-bytes"))

	loader := NewLoaderWithRuntime(rt.open, testSpec("models/yolov8n.onnx"), backup, log.Discard())
	m, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Type() != "backup:yolov8n-backup" {
		t.Errorf("expected backup model, got %q", m.Type())
	}

	if len(rt.specs) != 2 {
		t.Fatalf("expected two open attempts, got %d", len(rt.specs))
	}
	got := rt.specs[1]
	if string(got.Data) != "onnx-bytes" || got.Path != "" {
		t.Errorf("backup spec should carry checkpoint bytes only: %+v", got)
	}
	if got.InputWidth != 320 || got.InputHeight != 320 {
		t.Errorf("backup spec should take input size from manifest, got %dx%d", got.InputWidth, got.InputHeight)
	}
	if got.NMSThreshold != 0.45 || got.NumClasses != 80 {
		t.Errorf("backup spec should keep runtime settings, got %+v", got)
	}
}

func TestLoader_BothFailReturnsPrimary(t *testing.T) {
	primaryErr := errors.New("weights not cached")
	backupErr := errors.New("corrupt graph")
	rt := &scriptedRuntime{primaryErr: primaryErr, backupErr: backupErr}
	backup := filepath.Join(t.TempDir(), "backup.ckpt")
	writeTestCheckpoint(t, backup, []byte("onnx-bytes"))

	loader := NewLoaderWithRuntime(rt.open, testSpec("models/yolov8n.onnx"), backup, log.Discard())
	_, err := loader.Load(context.Background())

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %T: %v", err, err)
	}
	if !errors.Is(err, primaryErr) {
		t.Errorf("error should unwrap to the primary error")
	}
	if errors.Is(err, backupErr) {
		t.Errorf("error should not unwrap to the backup error")
	}
	if loadErr.Backup != backupErr {
		t.Errorf("Backup: got %v", loadErr.Backup)
	}
}

func TestLoader_CorruptCheckpoint(t *testing.T) {
	primaryErr := errors.New("weights not cached")
	rt := &scriptedRuntime{primaryErr: primaryErr}
	backup := filepath.Join(t.TempDir(), "backup.ckpt")
	if err := os.WriteFile(backup, []byte("PK\x03\x04 torch zip archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoaderWithRuntime(rt.open, testSpec("models/yolov8n.onnx"), backup, log.Discard())
	_, err := loader.Load(context.Background())

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !errors.Is(loadErr.Backup, ErrCheckpointMagic) {
		t.Errorf("backup failure should be a magic mismatch, got %v", loadErr.Backup)
	}
	if !errors.Is(err, primaryErr) {
		t.Errorf("visible failure should be the primary error")
	}
}

func TestLoader_CheckpointWithForeignClasses(t *testing.T) {
	primaryErr := errors.New("weights not cached")
	rt := &scriptedRuntime{primaryErr: primaryErr}
	backup := filepath.Join(t.TempDir(), "backup.ckpt")
	writeCheckpointManifest(t, backup, Manifest{ModelType: "pets", InputWidth: 320, InputHeight: 320, Classes: []string{"cat", "dog"}}, []byte("onnx-bytes"))

	spec := testSpec("models/yolov8n.onnx")
	spec.NumClasses = 3
	spec.Classes = []string{"person", "bicycle", "car"}
	loader := NewLoaderWithRuntime(rt.open, spec, backup, log.Discard())
	_, err := loader.Load(context.Background())

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !errors.Is(loadErr.Backup, ErrCheckpointClasses) {
		t.Errorf("backup failure should be a class mismatch, got %v", loadErr.Backup)
	}
	if len(rt.specs) != 1 {
		t.Errorf("mismatched checkpoint must not reach the runtime, got %d opens", len(rt.specs))
	}
}

func TestLoader_InvalidPrimarySpec(t *testing.T) {
	rt := &scriptedRuntime{}
	spec := testSpec("")
	loader := NewLoaderWithRuntime(rt.open, spec, "", log.Discard())

	if _, err := loader.Load(context.Background()); !errors.Is(err, ErrNoModelData) {
		t.Fatalf("expected ErrNoModelData, got %v", err)
	}
	if len(rt.specs) != 0 {
		t.Errorf("runtime should not be called for an invalid spec")
	}
}

func TestNewLoader_UnknownRuntime(t *testing.T) {
	_, err := NewLoader("tensorrt", testSpec("x.onnx"), "", log.Discard())
	if !errors.Is(err, ErrUnknownRuntime) {
		t.Fatalf("expected ErrUnknownRuntime, got %v", err)
	}
}

func TestNewLoader_RegisteredRuntime(t *testing.T) {
	RegisterRuntime("test-mock", func(ctx context.Context, spec Spec) (Model, error) {
		return &Mock{ModelType: spec.ModelType}, nil
	})

	loader, err := NewLoader("test-mock", testSpec("x.onnx"), "", log.Discard())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	m, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Type() != "yolov8n" {
		t.Errorf("Type: got %q", m.Type())
	}
}
