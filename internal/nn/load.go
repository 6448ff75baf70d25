package nn

import (
	"fmt"

	"github.com/kailas-cloud/semcache/internal/domain"
	"github.com/kailas-cloud/semcache/internal/weights"
)

// Loader pulls shape-checked layers out of a checkpoint. The first failure
// sticks: later calls return nil and Err reports it.
type Loader struct {
	Src    weights.Source
	Prefix string
	err    error
}

// Err returns the first load failure.
func (l *Loader) Err() error { return l.err }

// Tensor fetches Prefix+name with the given shape (-1 is a wildcard).
func (l *Loader) Tensor(name string, shape ...int) *weights.Tensor {
	if l.err != nil {
		return nil
	}
	t, err := weights.Require(l.Src, l.Prefix+name, shape...)
	if err != nil {
		l.err = err
		return nil
	}
	return t
}

// Linear loads name.weight [out, in] and, when bias is set, name.bias [out].
func (l *Loader) Linear(name string, out, in int, bias bool) *Linear {
	w := l.Tensor(name+".weight", out, in)
	var b *weights.Tensor
	if bias {
		b = l.Tensor(name+".bias", out)
	}
	if l.err != nil {
		return nil
	}
	lin, err := NewLinear(w, b)
	if err != nil {
		l.err = fmt.Errorf("%s%s: %w", l.Prefix, name, err)
		return nil
	}
	return lin
}

// LayerNorm loads name.weight and name.bias of the given width.
func (l *Loader) LayerNorm(name string, width int, eps float32) *LayerNorm {
	w := l.Tensor(name+".weight", width)
	b := l.Tensor(name+".bias", width)
	if l.err != nil {
		return nil
	}
	n, err := NewLayerNorm(w, b, eps)
	if err != nil {
		l.err = fmt.Errorf("%s%s: %w", l.Prefix, name, err)
		return nil
	}
	return n
}

// RMSNorm loads name.weight of the given width.
func (l *Loader) RMSNorm(name string, width int, eps float32) *RMSNorm {
	w := l.Tensor(name+".weight", width)
	if l.err != nil {
		return nil
	}
	return NewRMSNorm(w, eps)
}

// Lookup gathers the rows of a [vocab, width] table for ids.
func Lookup(table *weights.Tensor, ids []int) ([]float32, error) {
	vocab, width := table.Shape[0], table.Shape[1]
	out := make([]float32, 0, len(ids)*width)
	for _, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("token id %d outside vocabulary of %d: %w", id, vocab, domain.ErrTokenization)
		}
		out = append(out, table.Row(id)...)
	}
	return out, nil
}

// CheckLength rejects empty sequences and sequences longer than maxLen.
func CheckLength(n, maxLen int) error {
	if n == 0 {
		return domain.ErrEmptyInput
	}
	if n > maxLen {
		return fmt.Errorf("input length %d exceeds max %d: %w", n, maxLen, domain.ErrSequenceTooLong)
	}
	return nil
}

// Pool mean-pools a [seq, width] activation and L2-normalizes the result.
func Pool(x []float32, seq, width int) []float32 {
	v := MeanPool(x, seq, width)
	L2Normalize(v)
	return v
}
