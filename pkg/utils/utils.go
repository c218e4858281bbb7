package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"
)

func Fatal(v any) {
	fmt.Printf("fatal: %v\n", v)
	debug.PrintStack()
	os.Exit(1)
}

func MustNo(err error) {
	if err != nil {
		Fatal(err)
	}
}

func Assert(res bool) {
	if !res {
		Fatal(res)
	}
}

// Read decodes one T from content at the given byte order.
func Read[T any](order binary.ByteOrder, content []byte, val *T) {
	reader := bytes.NewReader(content)
	err := binary.Read(reader, order, val)
	MustNo(err)
}

// Write encodes val into content at the given byte order.
func Write[T any](order binary.ByteOrder, content []byte, val T) {
	buf := bytes.Buffer{}
	err := binary.Write(&buf, order, val)
	MustNo(err)
	copy(content, buf.Bytes())
}

func ReadSlice[T any](order binary.ByteOrder, content []byte, size int) []T {
	Assert(len(content)%size == 0)
	ret := make([]T, 0, len(content)/size)
	for len(content) > 0 {
		var ele T
		Read[T](order, content, &ele)
		ret = append(ret, ele)
		content = content[size:]
	}
	return ret
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

func IsPowerOfTwo(val uint64) bool {
	return val != 0 && val&(val-1) == 0
}

// SignExtend treats the low width bits of val as a signed quantity.
// Reverse the sign bit, then subtract it.
func SignExtend(val uint64, width uint) uint64 {
	Assert(width >= 1 && width <= 64)
	val &= (uint64(1) << width) - 1
	signBit := uint64(1) << (width - 1)
	return (val ^ signBit) - signBit
}

// BitSelect keeps a outside mask and b inside mask.
func BitSelect(a, b, mask uint64) uint64 {
	return (a &^ mask) | (b & mask)
}

// CheckSignedOverflow reports whether the low 32 bits of val do not fit
// in bits as a signed integer.
func CheckSignedOverflow(val uint64, bits uint) bool {
	signedVal := int64(int32(uint32(val)))
	max := int64(1)<<(bits-1) - 1
	min := -(int64(1) << (bits - 1))
	return signedVal > max || signedVal < min
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	i := 0
	for _, elem := range elems {
		if condition(elem) {
			continue
		}
		elems[i] = elem
		i++
	}
	return elems[:i]
}

// o => -o
// plugin => -plugin, --plugin
func AddDashes(option string) []string {
	res := []string{}

	if len(option) == 1 {
		res = append(res, "-"+option)
	} else {
		res = append(res, "-"+option, "--"+option)
	}

	return res
}
