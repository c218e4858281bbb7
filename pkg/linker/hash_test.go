package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestELFHash(t *testing.T) {
	assert.Equal(t, uint32(0), ELFHash(""))
	assert.Equal(t, uint32(0x61), ELFHash("a"))
	assert.Equal(t, uint32(0x672), ELFHash("ab"))

	// the canonical property: only the low 28 bits survive
	for _, name := range []string{"_GLOBAL_OFFSET_TABLE_", "printf", "main"} {
		assert.Zero(t, ELFHash(name)&0xf0000000, name)
	}
}

func TestHashBucketCount(t *testing.T) {
	assert.Equal(t, uint32(1), HashBucketCount(0, false))
	assert.Equal(t, uint32(1), HashBucketCount(2, false))
	assert.Equal(t, uint32(3), HashBucketCount(3, false))
	assert.Equal(t, uint32(17), HashBucketCount(20, false))
	assert.Equal(t, uint32(97), HashBucketCount(100, false))
	assert.Equal(t, uint32(1031), HashBucketCount(2000, false))
	assert.Equal(t, uint32(1048583), HashBucketCount(2000000, true))
}
