package weights

import (
	"errors"
	"fmt"
)

// Sentinel errors for checkpoint loading.
var (
	ErrFormat          = errors.New("weights: malformed checkpoint")
	ErrMissingMetadata = errors.New("weights: missing or invalid metadata")
	ErrUnsupportedArch = errors.New("weights: unsupported architecture")
	ErrTensorNotFound  = errors.New("weights: tensor not found")
)

// MetadataError names the GGUF metadata key that failed extraction.
type MetadataError struct {
	Key  string
	Want ValueType
	Got  ValueType // zero when the key is absent
}

func (e *MetadataError) Error() string {
	return "missing or invalid GGUF metadata: " + e.Key
}

func (e *MetadataError) Unwrap() error { return ErrMissingMetadata }

// TensorError wraps a failure with the offending tensor name.
type TensorError struct {
	Name string
	Err  error
}

func (e *TensorError) Error() string { return "tensor " + e.Name + ": " + e.Err.Error() }
func (e *TensorError) Unwrap() error { return e.Err }

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
