package utils

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignExtend(t *testing.T) {
	assert.Equal(t, uint64(0xffffffffffffffff), SignExtend(0xff, 8))
	assert.Equal(t, uint64(0x7f), SignExtend(0x7f, 8))
	assert.Equal(t, uint64(0xfffffffffffffffc), SignExtend(0x3fffffc, 26))
	assert.Equal(t, uint64(0), SignExtend(0, 16))
}

func TestBitSelect(t *testing.T) {
	assert.Equal(t, uint64(0xab12), BitSelect(0xab00, 0xcd12, 0xff))
	assert.Equal(t, uint64(0xcd12), BitSelect(0xab00, 0xcd12, 0xffff))
}

func TestCheckSignedOverflow(t *testing.T) {
	assert.False(t, CheckSignedOverflow(0x7fff, 16))
	assert.True(t, CheckSignedOverflow(0x8000, 16))
	assert.False(t, CheckSignedOverflow(0xffff8000, 16)) // -32768
	assert.True(t, CheckSignedOverflow(0xffff7fff, 16))
	assert.False(t, CheckSignedOverflow(0x1fffffe, 26))
	assert.True(t, CheckSignedOverflow(0x2000000, 26))
}

func TestAlignTo(t *testing.T) {
	assert.Equal(t, uint64(0), AlignTo(0, 8))
	assert.Equal(t, uint64(8), AlignTo(1, 8))
	assert.Equal(t, uint64(8), AlignTo(8, 8))
	assert.Equal(t, uint64(5), AlignTo(5, 0))
}

func TestReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	Write[uint32](binary.LittleEndian, buf, 0xdeadbeef)
	var val uint32
	Read[uint32](binary.LittleEndian, buf, &val)
	assert.Equal(t, uint32(0xdeadbeef), val)

	Write[uint32](binary.BigEndian, buf, 0x11223344)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, buf[:4])
}

func TestReadSlice(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, 1)
	binary.LittleEndian.PutUint32(buf[4:], 2)
	vals := ReadSlice[uint32](binary.LittleEndian, buf, 4)
	assert.Equal(t, []uint32{1, 2}, vals)
}

func TestRemoveIf(t *testing.T) {
	nums := []int{1, 2, 3, 4, 5}
	odd := RemoveIf(nums, func(n int) bool { return n%2 == 0 })
	assert.Equal(t, []int{1, 3, 5}, odd)
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(4096))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(6))
}
