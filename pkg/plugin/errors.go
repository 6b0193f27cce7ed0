package plugin

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/teslashibe/go-objdetect/pkg/camera"
)

// Error kinds reported in the error_type field.
const (
	KindModelLoad = "ModelLoadError"
	KindCapture   = "CaptureError"
	KindInference = "InferenceError"
	KindPublish   = "PublishError"
	KindSetup     = "SetupError"
)

// ModelLoadError reports that no model could be loaded.
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError reports a failure running or decoding the model.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *InferenceError) Unwrap() error {
	return e.Err
}

// PublishError reports a failure delivering an event to the bus.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *PublishError) Unwrap() error {
	return e.Err
}

// SetupError reports a failure building the pipeline from configuration.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error {
	return e.Err
}

// stackTracer is implemented by errors from github.com/pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// withStack records the caller's stack on err unless it already has one.
func withStack(err error) error {
	var st stackTracer
	if errors.As(err, &st) {
		return err
	}
	return errors.WithStack(err)
}

// classify returns the error type and message reported for err.
//
// The type is the name of the innermost named error in the Unwrap chain,
// so a source failing with *IOError reports "IOError". Anonymous wrappers
// such as errors.New or fmt.Errorf values are skipped; when nothing else is
// named the pipeline kind is used. The message is that of the error the
// kind wraps, or the full message for unclassified errors.
func classify(err error) (kind, message string) {
	var (
		loadErr    *ModelLoadError
		captureErr *camera.CaptureError
		inferErr   *InferenceError
		publishErr *PublishError
		setupErr   *SetupError
	)
	switch {
	case errors.As(err, &loadErr):
		kind, message = KindModelLoad, causeMessage(loadErr.Err)
	case errors.As(err, &captureErr):
		kind, message = KindCapture, causeMessage(captureErr.Err)
	case errors.As(err, &inferErr):
		kind, message = KindInference, causeMessage(inferErr.Err)
	case errors.As(err, &publishErr):
		kind, message = KindPublish, causeMessage(publishErr.Err)
	case errors.As(err, &setupErr):
		kind, message = KindSetup, causeMessage(setupErr.Err)
	default:
		message = err.Error()
	}
	if name := innermostName(err); name != "" {
		return name, message
	}
	if kind == "" {
		kind = typeName(errors.Cause(err))
	}
	return kind, message
}

// anonymousTypes are error implementations that carry no useful class name.
var anonymousTypes = map[string]bool{
	"errorString": true, // errors.New
	"wrapError":   true, // fmt.Errorf with %w
	"wrapErrors":  true, // fmt.Errorf with several %w
	"joinError":   true, // errors.Join
	"fundamental": true, // pkg/errors.New
	"withStack":   true,
	"withMessage": true,
}

// innermostName walks the Unwrap chain and returns the bare type name of
// the deepest error that is not an anonymous wrapper.
func innermostName(err error) string {
	var name string
	for e := err; e != nil; e = errors.Unwrap(e) {
		if n := typeName(e); !anonymousTypes[n] {
			name = n
		}
	}
	return name
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// typeName returns the bare type name of err, e.g. "PathError" for *fs.PathError.
func typeName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
