package weights

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"
)

const (
	ggufMagic            = 0x46554747 // "GGUF" little-endian
	ggufDefaultAlignment = 32
	maxStringLen         = 1 << 20
	maxTensorDims        = 4
	// Keeps the byte size of the widest type (F32) within int.
	maxTensorElements    = math.MaxInt / 4
)

// ValueType tags a GGUF metadata value.
type ValueType uint32

// GGUF metadata value types.
const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

var valueTypeNames = [...]string{
	"u8", "i8", "u16", "i16", "u32", "i32", "f32", "bool", "string", "array", "u64", "i64", "f64",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// Value is one decoded metadata entry. Arrays keep their elements in Array.
type Value struct {
	Type  ValueType
	Elem  ValueType // element type for arrays
	Raw   any
	Array []any
}

type ggufTensorInfo struct {
	name   string
	shape  []int // outermost first
	typ    GGMLType
	offset int // absolute offset into the file
	size   int
}

// GGUF is a parsed GGUF checkpoint backed by a mapped file.
type GGUF struct {
	Version  uint32
	Metadata map[string]Value

	infos   map[string]ggufTensorInfo
	data    []byte
	release func() error

	mu    sync.Mutex
	cache map[string]*Tensor
}

var _ Source = (*GGUF)(nil)

// OpenGGUF maps and parses a GGUF file.
func OpenGGUF(path string) (*GGUF, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	g, err := ParseGGUF(data)
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	g.release = release
	return g, nil
}

// ParseGGUF parses an in-memory GGUF image. data must outlive the result.
func ParseGGUF(data []byte) (*GGUF, error) {
	r := &byteReader{buf: data}

	if magic := r.u32(); magic != ggufMagic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, formatErr("bad GGUF magic %#x", magic)
	}
	version := r.u32()
	if r.err == nil && (version < 2 || version > 3) {
		return nil, formatErr("unsupported GGUF version %d", version)
	}
	nTensors := r.count(8)
	nKV := r.count(8)
	if r.err != nil {
		return nil, r.err
	}

	g := &GGUF{
		Version:  version,
		Metadata: make(map[string]Value, nKV),
		infos:    make(map[string]ggufTensorInfo, nTensors),
		data:     data,
		cache:    make(map[string]*Tensor),
	}

	for i := 0; i < nKV; i++ {
		key := r.str()
		v := r.value(ValueType(r.u32()))
		if r.err != nil {
			return nil, fmt.Errorf("metadata entry %d: %w", i, r.err)
		}
		g.Metadata[key] = v
	}

	type pending struct {
		info ggufTensorInfo
		rel  uint64
	}
	tensors := make([]pending, 0, nTensors)
	for i := 0; i < nTensors; i++ {
		name := r.str()
		nDims := int(r.u32())
		if r.err == nil && (nDims < 1 || nDims > maxTensorDims) {
			return nil, &TensorError{Name: name, Err: formatErr("%d dimensions", nDims)}
		}
		shape := make([]int, nDims)
		elems := 1
		for d := 0; d < nDims && r.err == nil; d++ {
			ne := r.u64()
			if r.err != nil {
				break
			}
			if ne == 0 || ne > math.MaxInt32 {
				return nil, &TensorError{Name: name, Err: formatErr("dimension %d has size %d", d, ne)}
			}
			if elems > maxTensorElements/int(ne) {
				return nil, &TensorError{Name: name, Err: formatErr("element count overflows at dimension %d", d)}
			}
			elems *= int(ne)
			// GGUF lists ne0 (fastest varying) first.
			shape[nDims-1-d] = int(ne)
		}
		typ := GGMLType(r.u32())
		rel := r.u64()
		if r.err != nil {
			return nil, fmt.Errorf("tensor info %d: %w", i, r.err)
		}
		tensors = append(tensors, pending{info: ggufTensorInfo{name: name, shape: shape, typ: typ}, rel: rel})
	}

	alignment := uint64(ggufDefaultAlignment)
	if v, ok := g.Metadata["general.alignment"]; ok && v.Type == TypeUint32 {
		alignment = uint64(v.Raw.(uint32))
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return nil, formatErr("general.alignment %d is not a power of two", alignment)
	}
	dataStart := (uint64(r.off) + alignment - 1) / alignment * alignment

	for _, p := range tensors {
		info := p.info
		size, err := byteSize(info.typ, numElements(info.shape))
		if err != nil {
			return nil, &TensorError{Name: info.name, Err: err}
		}
		start := dataStart + p.rel
		if p.rel%alignment != 0 || start > uint64(len(data)) || uint64(size) > uint64(len(data))-start {
			return nil, &TensorError{Name: info.name, Err: formatErr("data range [%d,+%d) outside file of %d bytes", start, size, len(data))}
		}
		info.offset = int(start)
		info.size = size
		if _, dup := g.infos[info.name]; dup {
			return nil, &TensorError{Name: info.name, Err: formatErr("duplicate tensor")}
		}
		g.infos[info.name] = info
	}
	return g, nil
}

// Close releases the mapping. Tensors already dequantized stay valid.
func (g *GGUF) Close() error {
	if g.release == nil {
		return nil
	}
	err := g.release()
	g.release = nil
	return err
}

// Has reports whether the checkpoint declares a tensor.
func (g *GGUF) Has(name string) bool {
	_, ok := g.infos[name]
	return ok
}

// Names lists tensor names in sorted order.
func (g *GGUF) Names() []string { return sortedKeys(g.infos) }

// Shape returns a tensor's shape, outermost first.
func (g *GGUF) Shape(name string) ([]int, error) {
	info, ok := g.infos[name]
	if !ok {
		return nil, &TensorError{Name: name, Err: ErrTensorNotFound}
	}
	return slices.Clone(info.shape), nil
}

// TensorType returns the on-disk type of a tensor.
func (g *GGUF) TensorType(name string) (GGMLType, bool) {
	info, ok := g.infos[name]
	return info.typ, ok
}

// Tensor dequantizes a tensor to float32. Results are memoized.
func (g *GGUF) Tensor(name string) (*Tensor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.cache[name]; ok {
		return t, nil
	}
	info, ok := g.infos[name]
	if !ok {
		return nil, &TensorError{Name: name, Err: ErrTensorNotFound}
	}
	data, err := Dequantize(info.typ, g.data[info.offset:info.offset+info.size], numElements(info.shape))
	if err != nil {
		return nil, &TensorError{Name: name, Err: err}
	}
	t := &Tensor{Shape: info.shape, Data: data}
	g.cache[name] = t
	return t, nil
}

func (g *GGUF) lookup(key string, want ValueType) (Value, error) {
	v, ok := g.Metadata[key]
	if !ok {
		return Value{}, &MetadataError{Key: key, Want: want}
	}
	if v.Type != want {
		return Value{}, &MetadataError{Key: key, Want: want, Got: v.Type}
	}
	return v, nil
}

// Uint32 returns a required u32 metadata value.
func (g *GGUF) Uint32(key string) (uint32, error) {
	v, err := g.lookup(key, TypeUint32)
	if err != nil {
		return 0, err
	}
	return v.Raw.(uint32), nil
}

// Float32 returns a required f32 metadata value.
func (g *GGUF) Float32(key string) (float32, error) {
	v, err := g.lookup(key, TypeFloat32)
	if err != nil {
		return 0, err
	}
	return v.Raw.(float32), nil
}

// String returns a required string metadata value.
func (g *GGUF) String(key string) (string, error) {
	v, err := g.lookup(key, TypeString)
	if err != nil {
		return "", err
	}
	return v.Raw.(string), nil
}

// byteReader is a bounds-checked little-endian cursor. The first failure
// sticks in err and every later read returns zero values.
type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.err = formatErr("unexpected end of header at offset %d (need %d bytes)", r.off, n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *byteReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *byteReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *byteReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *byteReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// count reads a u64 element count that must be coverable by the remaining
// bytes at minSize bytes per element.
func (r *byteReader) count(minSize int) int {
	n := r.u64()
	if r.err != nil {
		return 0
	}
	if n > uint64(len(r.buf)-r.off)/uint64(minSize) {
		r.err = formatErr("count %d at offset %d exceeds remaining data", n, r.off)
		return 0
	}
	return int(n)
}

func (r *byteReader) str() string {
	n := r.u64()
	if r.err == nil && n > maxStringLen {
		r.err = formatErr("string of %d bytes at offset %d", n, r.off)
	}
	return string(r.take(int(n)))
}

func (r *byteReader) scalar(t ValueType) any {
	switch t {
	case TypeUint8:
		return r.u8()
	case TypeInt8:
		return int8(r.u8())
	case TypeUint16:
		return r.u16()
	case TypeInt16:
		return int16(r.u16())
	case TypeUint32:
		return r.u32()
	case TypeInt32:
		return int32(r.u32())
	case TypeFloat32:
		return math.Float32frombits(r.u32())
	case TypeBool:
		return r.u8() != 0
	case TypeString:
		return r.str()
	case TypeUint64:
		return r.u64()
	case TypeInt64:
		return int64(r.u64())
	case TypeFloat64:
		return math.Float64frombits(r.u64())
	default:
		if r.err == nil {
			r.err = formatErr("unknown metadata value type %d", uint32(t))
		}
		return nil
	}
}

func (r *byteReader) value(t ValueType) Value {
	if t != TypeArray {
		return Value{Type: t, Raw: r.scalar(t)}
	}
	elem := ValueType(r.u32())
	if elem == TypeArray && r.err == nil {
		r.err = formatErr("nested metadata arrays are not supported")
	}
	n := r.count(1)
	arr := make([]any, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		arr = append(arr, r.scalar(elem))
	}
	return Value{Type: TypeArray, Elem: elem, Array: arr}
}
