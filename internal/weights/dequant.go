package weights

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// GGMLType is the on-disk element encoding of a GGUF tensor.
type GGMLType uint32

// GGML tensor types. Only the ones listed in blockFormats can be dequantized.
const (
	GGMLTypeF32  GGMLType = 0
	GGMLTypeF16  GGMLType = 1
	GGMLTypeQ4_0 GGMLType = 2
	GGMLTypeQ4_1 GGMLType = 3
	GGMLTypeQ5_0 GGMLType = 6
	GGMLTypeQ5_1 GGMLType = 7
	GGMLTypeQ8_0 GGMLType = 8
	GGMLTypeQ4_K GGMLType = 12
	GGMLTypeQ5_K GGMLType = 13
	GGMLTypeQ6_K GGMLType = 14
	GGMLTypeBF16 GGMLType = 30
)

func (t GGMLType) String() string {
	if f, ok := blockFormats[t]; ok {
		return f.name
	}
	return fmt.Sprintf("ggml_type(%d)", uint32(t))
}

// blockFormat describes one quantization scheme: elems values packed in bytes.
type blockFormat struct {
	name   string
	elems  int
	bytes  int
	decode func(block []byte, out []float32)
}

var blockFormats = map[GGMLType]blockFormat{
	GGMLTypeF32:  {"F32", 1, 4, decodeF32},
	GGMLTypeF16:  {"F16", 1, 2, decodeF16},
	GGMLTypeBF16: {"BF16", 1, 2, decodeBF16},
	GGMLTypeQ4_0: {"Q4_0", 32, 18, decodeQ4_0},
	GGMLTypeQ4_1: {"Q4_1", 32, 20, decodeQ4_1},
	GGMLTypeQ5_0: {"Q5_0", 32, 22, decodeQ5_0},
	GGMLTypeQ5_1: {"Q5_1", 32, 24, decodeQ5_1},
	GGMLTypeQ8_0: {"Q8_0", 32, 34, decodeQ8_0},
	GGMLTypeQ4_K: {"Q4_K", 256, 144, decodeQ4_K},
	GGMLTypeQ5_K: {"Q5_K", 256, 176, decodeQ5_K},
	GGMLTypeQ6_K: {"Q6_K", 256, 210, decodeQ6_K},
}

// byteSize returns the encoded size of n elements of type t.
func byteSize(t GGMLType, n int) (int, error) {
	f, ok := blockFormats[t]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported tensor type %s", ErrFormat, t)
	}
	if n%f.elems != 0 {
		return 0, fmt.Errorf("%w: %d elements is not a multiple of the %s block size %d", ErrFormat, n, f.name, f.elems)
	}
	return n / f.elems * f.bytes, nil
}

// Dequantize decodes n elements of type t from raw into float32.
func Dequantize(t GGMLType, raw []byte, n int) ([]float32, error) {
	size, err := byteSize(t, n)
	if err != nil {
		return nil, err
	}
	if len(raw) < size {
		return nil, fmt.Errorf("%w: %s data is %d bytes, want %d", ErrFormat, t, len(raw), size)
	}
	f := blockFormats[t]
	out := make([]float32, n)
	for b := 0; b < n/f.elems; b++ {
		f.decode(raw[b*f.bytes:(b+1)*f.bytes], out[b*f.elems:(b+1)*f.elems])
	}
	return out, nil
}

func half(b []byte) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
}

func decodeF32(block []byte, out []float32) {
	out[0] = math.Float32frombits(binary.LittleEndian.Uint32(block))
}

func decodeF16(block []byte, out []float32) {
	out[0] = half(block)
}

func decodeBF16(block []byte, out []float32) {
	out[0] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(block)) << 16)
}

// Q4_0: fp16 scale, 16 bytes of nibbles; low nibbles fill 0..15, high 16..31.
func decodeQ4_0(block []byte, out []float32) {
	d := half(block[0:2])
	qs := block[2:18]
	for j := 0; j < 16; j++ {
		out[j] = float32(int(qs[j]&0x0F)-8) * d
		out[j+16] = float32(int(qs[j]>>4)-8) * d
	}
}

// Q4_1: fp16 scale and min, 16 bytes of nibbles.
func decodeQ4_1(block []byte, out []float32) {
	d := half(block[0:2])
	m := half(block[2:4])
	qs := block[4:20]
	for j := 0; j < 16; j++ {
		out[j] = float32(qs[j]&0x0F)*d + m
		out[j+16] = float32(qs[j]>>4)*d + m
	}
}

// Q5_0: fp16 scale, 32 high bits, 16 bytes of nibbles; values centered on 16.
func decodeQ5_0(block []byte, out []float32) {
	d := half(block[0:2])
	qh := binary.LittleEndian.Uint32(block[2:6])
	qs := block[6:22]
	for j := 0; j < 16; j++ {
		q0 := int(qs[j]&0x0F) | int((qh>>uint(j))&1)<<4
		q1 := int(qs[j]>>4) | int((qh>>uint(j+16))&1)<<4
		out[j] = float32(q0-16) * d
		out[j+16] = float32(q1-16) * d
	}
}

// Q5_1: fp16 scale and min, 32 high bits, 16 bytes of nibbles.
func decodeQ5_1(block []byte, out []float32) {
	d := half(block[0:2])
	m := half(block[2:4])
	qh := binary.LittleEndian.Uint32(block[4:8])
	qs := block[8:24]
	for j := 0; j < 16; j++ {
		q0 := uint32(qs[j]&0x0F) | ((qh>>uint(j))&1)<<4
		q1 := uint32(qs[j]>>4) | ((qh>>uint(j+16))&1)<<4
		out[j] = float32(q0)*d + m
		out[j+16] = float32(q1)*d + m
	}
}

// Q8_0: fp16 scale, 32 signed bytes.
func decodeQ8_0(block []byte, out []float32) {
	d := half(block[0:2])
	for j := 0; j < 32; j++ {
		out[j] = float32(int8(block[2+j])) * d
	}
}

// scaleMinK4 unpacks the 6-bit scale and min of sub-block j.
func scaleMinK4(j int, scales []byte) (sc, m uint8) {
	if j < 4 {
		return scales[j] & 63, scales[j+4] & 63
	}
	sc = (scales[j+4] & 0x0F) | ((scales[j-4] >> 6) << 4)
	m = (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	return sc, m
}

// Q4_K: fp16 d and dmin, 12 bytes of packed scales, 128 bytes of nibbles.
func decodeQ4_K(block []byte, out []float32) {
	d := half(block[0:2])
	dmin := half(block[2:4])
	scales := block[4:16]
	qs := block[16:144]

	is := 0
	for j := 0; j < 256; j += 64 {
		sc, m := scaleMinK4(is, scales)
		d1, m1 := d*float32(sc), dmin*float32(m)
		sc, m = scaleMinK4(is+1, scales)
		d2, m2 := d*float32(sc), dmin*float32(m)

		q := qs[j/2 : j/2+32]
		for l := 0; l < 32; l++ {
			out[j+l] = d1*float32(q[l]&0x0F) - m1
			out[j+32+l] = d2*float32(q[l]>>4) - m2
		}
		is += 2
	}
}

// Q5_K: Q4_K plus 32 bytes holding the fifth bit of every value.
func decodeQ5_K(block []byte, out []float32) {
	d := half(block[0:2])
	dmin := half(block[2:4])
	scales := block[4:16]
	qh := block[16:48]
	qs := block[48:176]

	is := 0
	var u1, u2 uint8 = 1, 2
	for j := 0; j < 256; j += 64 {
		sc, m := scaleMinK4(is, scales)
		d1, m1 := d*float32(sc), dmin*float32(m)
		sc, m = scaleMinK4(is+1, scales)
		d2, m2 := d*float32(sc), dmin*float32(m)

		q := qs[j/2 : j/2+32]
		for l := 0; l < 32; l++ {
			lo := float32(q[l] & 0x0F)
			if qh[l]&u1 != 0 {
				lo += 16
			}
			hi := float32(q[l] >> 4)
			if qh[l]&u2 != 0 {
				hi += 16
			}
			out[j+l] = d1*lo - m1
			out[j+32+l] = d2*hi - m2
		}
		is += 2
		u1 <<= 2
		u2 <<= 2
	}
}

// Q6_K: 128 bytes low nibbles, 64 bytes high 2-bit pairs, 16 int8 scales, fp16 d.
func decodeQ6_K(block []byte, out []float32) {
	ql := block[0:128]
	qh := block[128:192]
	scales := block[192:208]
	d := half(block[208:210])

	for n := 0; n < 2; n++ {
		l4 := ql[n*64:]
		h := qh[n*32:]
		sc := scales[n*8:]
		y := out[n*128:]
		for l := 0; l < 32; l++ {
			is := l / 16
			q1 := int(l4[l]&0x0F) | int(h[l]&3)<<4
			q2 := int(l4[l+32]&0x0F) | int((h[l]>>2)&3)<<4
			q3 := int(l4[l]>>4) | int((h[l]>>4)&3)<<4
			q4 := int(l4[l+32]>>4) | int((h[l]>>6)&3)<<4
			y[l] = d * float32(int8(sc[is])) * float32(q1-32)
			y[l+32] = d * float32(int8(sc[is+2])) * float32(q2-32)
			y[l+64] = d * float32(int8(sc[is+4])) * float32(q3-32)
			y[l+96] = d * float32(int8(sc[is+6])) * float32(q4-32)
		}
	}
}
