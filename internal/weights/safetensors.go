package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sync"
	"unsafe"

	"github.com/x448/float16"
)

// maxHeaderLen caps the safetensors JSON header accepted by the parser.
const maxHeaderLen = 100 << 20

type stEntry struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Safetensors is a parsed safetensors checkpoint. F32 tensors alias the
// underlying mapping, so Close must not be called while they are in use.
type Safetensors struct {
	entries map[string]stEntry
	payload []byte
	release func() error

	mu    sync.Mutex
	cache map[string]*Tensor
}

var _ Source = (*Safetensors)(nil)

// OpenSafetensors maps and parses a safetensors file.
func OpenSafetensors(path string) (*Safetensors, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	st, err := ParseSafetensors(data)
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	st.release = release
	return st, nil
}

// ParseSafetensors parses an in-memory safetensors image.
func ParseSafetensors(data []byte) (*Safetensors, error) {
	if len(data) < 8 {
		return nil, formatErr("safetensors file shorter than its length prefix")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderLen {
		return nil, formatErr("safetensors header of %d bytes exceeds %d", n, maxHeaderLen)
	}
	if n > uint64(len(data)-8) {
		return nil, formatErr("safetensors header of %d bytes exceeds file size %d", n, len(data))
	}
	header := data[8 : 8+n]
	payload := data[8+n:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode safetensors header: %v", ErrFormat, err)
	}

	entries := make(map[string]stEntry, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var e stEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, &TensorError{Name: name, Err: fmt.Errorf("%w: %v", ErrFormat, err)}
		}
		if err := validateEntry(e, len(payload)); err != nil {
			return nil, &TensorError{Name: name, Err: err}
		}
		entries[name] = e
	}

	return &Safetensors{
		entries: entries,
		payload: payload,
		cache:   make(map[string]*Tensor),
	}, nil
}

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case "F32":
		return 4, true
	case "F16", "BF16":
		return 2, true
	default:
		return 0, false
	}
}

func validateEntry(e stEntry, payloadLen int) error {
	size, ok := dtypeSize(e.DType)
	if !ok {
		return formatErr("unsupported dtype %q", e.DType)
	}
	n := 1
	for _, d := range e.Shape {
		if d < 0 || (d > 0 && n > math.MaxInt32/d) {
			return formatErr("invalid shape %v", e.Shape)
		}
		n *= d
	}
	begin, end := e.DataOffsets[0], e.DataOffsets[1]
	if begin < 0 || end < begin || end > payloadLen {
		return formatErr("data offsets [%d,%d) outside payload of %d bytes", begin, end, payloadLen)
	}
	if end-begin != n*size {
		return formatErr("data offsets [%d,%d) hold %d bytes, shape %v needs %d", begin, end, end-begin, e.Shape, n*size)
	}
	return nil
}

// Close releases the mapping.
func (s *Safetensors) Close() error {
	if s.release == nil {
		return nil
	}
	err := s.release()
	s.release = nil
	return err
}

// Has reports whether the header declares a tensor.
func (s *Safetensors) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Names lists tensor names in sorted order.
func (s *Safetensors) Names() []string { return sortedKeys(s.entries) }

// Shape returns a tensor's declared shape.
func (s *Safetensors) Shape(name string) ([]int, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, &TensorError{Name: name, Err: ErrTensorNotFound}
	}
	return slices.Clone(e.Shape), nil
}

// Tensor returns a float32 view (F32) or converted copy (F16, BF16).
func (s *Safetensors) Tensor(name string) (*Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.cache[name]; ok {
		return t, nil
	}
	e, ok := s.entries[name]
	if !ok {
		return nil, &TensorError{Name: name, Err: ErrTensorNotFound}
	}
	raw := s.payload[e.DataOffsets[0]:e.DataOffsets[1]]
	n := numElements(e.Shape)

	var data []float32
	switch e.DType {
	case "F32":
		data = f32View(raw, n)
	case "F16":
		data = make([]float32, n)
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	case "BF16":
		data = make([]float32, n)
		for i := range data {
			data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[2*i:])) << 16)
		}
	}
	t := &Tensor{Shape: e.Shape, Data: data}
	s.cache[name] = t
	return t, nil
}

// f32View reinterprets raw as float32 when it is aligned, else decodes a copy.
func f32View(raw []byte, n int) []float32 {
	if n == 0 {
		return []float32{}
	}
	if uintptr(unsafe.Pointer(&raw[0]))%4 == 0 && nativeLittleEndian {
		return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

var nativeLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()
