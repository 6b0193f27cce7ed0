package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

// Backup checkpoints hold a complete serialized model:
//
//	magic "ODCKPT" | uint16 version | uint32 manifest length | manifest JSON | model bytes
//
// All integers are big-endian. The manifest carries a SHA-256 of the model
// bytes, checked on read.
const (
	CheckpointMagic   = "ODCKPT"
	CheckpointVersion = 1

	maxManifestSize = 1 << 20
)

// Checkpoint errors.
var (
	ErrCheckpointMagic    = errors.New("model: not a detector checkpoint")
	ErrCheckpointVersion  = errors.New("model: unsupported checkpoint version")
	ErrCheckpointChecksum = errors.New("model: checkpoint checksum mismatch")
	ErrCheckpointClasses  = errors.New("model: checkpoint classes do not match the label table")
)

// Manifest describes the model stored in a checkpoint.
type Manifest struct {
	Version     int      `json:"version"`
	Format      string   `json:"format"`
	ModelType   string   `json:"model_type"`
	InputWidth  int      `json:"input_width"`
	InputHeight int      `json:"input_height"`
	Classes     []string `json:"classes,omitempty"`
	SHA256      string   `json:"sha256"`
}

// Checkpoint is a decoded backup checkpoint.
type Checkpoint struct {
	Manifest Manifest
	Payload  []byte
}

// CheckpointError reports an unreadable or invalid checkpoint file.
type CheckpointError struct {
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("model: checkpoint %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// WriteCheckpoint frames payload with m. Version and SHA256 are filled in.
func WriteCheckpoint(w io.Writer, m Manifest, payload []byte) error {
	sum := sha256.Sum256(payload)
	m.Version = CheckpointVersion
	m.SHA256 = hex.EncodeToString(sum[:])
	if m.Format == "" {
		m.Format = FormatONNX
	}

	manifest, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	var hdr bytes.Buffer
	hdr.WriteString(CheckpointMagic)
	binary.Write(&hdr, binary.BigEndian, uint16(CheckpointVersion))
	binary.Write(&hdr, binary.BigEndian, uint32(len(manifest)))
	hdr.Write(manifest)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadCheckpoint decodes and validates a checkpoint.
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	magic := make([]byte, len(CheckpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointMagic, err)
	}
	if string(magic) != CheckpointMagic {
		return nil, ErrCheckpointMagic
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != CheckpointVersion {
		return nil, fmt.Errorf("%w: %d", ErrCheckpointVersion, version)
	}

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("read manifest size: %w", err)
	}
	if size == 0 || size > maxManifestSize {
		return nil, fmt.Errorf("manifest size %d out of range", size)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: manifest says %d", ErrCheckpointVersion, m.Version)
	}
	if m.Format != FormatONNX {
		return nil, fmt.Errorf("model: unsupported checkpoint format %q", m.Format)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrNoModelData
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != m.SHA256 {
		return nil, ErrCheckpointChecksum
	}

	return &Checkpoint{Manifest: m, Payload: payload}, nil
}

// LoadCheckpoint reads and validates the checkpoint at path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CheckpointError{Path: path, Err: err}
	}
	defer f.Close()

	ckpt, err := ReadCheckpoint(f)
	if err != nil {
		return nil, &CheckpointError{Path: path, Err: err}
	}
	return ckpt, nil
}

// Spec derives a runtime spec from the checkpoint, keeping runtime settings
// and the label table from base. A manifest whose classes differ from
// base.Classes (or, without a table, from base.NumClasses) is rejected.
func (c *Checkpoint) Spec(base Spec) (Spec, error) {
	if err := c.checkClasses(base); err != nil {
		return Spec{}, err
	}

	spec := base
	spec.Path = ""
	spec.Data = c.Payload
	spec.Format = c.Manifest.Format
	if c.Manifest.ModelType != "" {
		spec.ModelType = c.Manifest.ModelType
	}
	if c.Manifest.InputWidth > 0 && c.Manifest.InputHeight > 0 {
		spec.InputWidth = c.Manifest.InputWidth
		spec.InputHeight = c.Manifest.InputHeight
	}
	return spec, nil
}

func (c *Checkpoint) checkClasses(base Spec) error {
	classes := c.Manifest.Classes
	if len(classes) == 0 {
		return nil
	}
	if len(base.Classes) > 0 {
		if !slices.Equal(classes, base.Classes) {
			return fmt.Errorf("%w: checkpoint has %d classes starting %q", ErrCheckpointClasses, len(classes), classes[0])
		}
		return nil
	}
	if len(classes) != base.NumClasses {
		return fmt.Errorf("%w: checkpoint has %d classes, want %d", ErrCheckpointClasses, len(classes), base.NumClasses)
	}
	return nil
}
