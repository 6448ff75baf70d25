// Package weights loads transformer checkpoints (GGUF and safetensors) into
// named float32 tensors.
package weights

import (
	"fmt"
	"slices"
)

// Tensor is a dense float32 tensor. Shape is row-major, outermost dimension first.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t *Tensor) Len() int {
	return numElements(t.Shape)
}

// Row returns row i of a 2D tensor.
func (t *Tensor) Row(i int) []float32 {
	cols := t.Shape[len(t.Shape)-1]
	return t.Data[i*cols : (i+1)*cols]
}

// Source is the read side of a loaded checkpoint.
type Source interface {
	Tensor(name string) (*Tensor, error)
	Has(name string) bool
	Names() []string
}

// ShapeOf returns the shape of a tensor. Sources that know shapes from their
// header answer without decoding the tensor.
func ShapeOf(src Source, name string) ([]int, error) {
	if s, ok := src.(interface{ Shape(string) ([]int, error) }); ok {
		return s.Shape(name)
	}
	t, err := src.Tensor(name)
	if err != nil {
		return nil, err
	}
	return t.Shape, nil
}

// Require fetches a tensor and checks its shape. A negative entry in shape
// matches any size in that position.
func Require(src Source, name string, shape ...int) (*Tensor, error) {
	t, err := src.Tensor(name)
	if err != nil {
		return nil, err
	}
	if !shapeMatches(t.Shape, shape) {
		return nil, &TensorError{Name: name, Err: fmt.Errorf("%w: shape %v, want %v", ErrFormat, t.Shape, shape)}
	}
	return t, nil
}

func shapeMatches(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if want[i] >= 0 && got[i] != want[i] {
			return false
		}
	}
	return true
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
