package mem

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAreaRequestRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/obj/a.o", []byte("0123456789"), 0644))

	area, err := NewArea(fs, "/obj/a.o", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), area.Size())

	region, err := area.Request(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), region.Bytes())
	assert.Equal(t, 1, area.Borrowed())

	area.Release(region)
	assert.Equal(t, 0, area.Borrowed())
}

func TestAreaRequestOutOfRange(t *testing.T) {
	area := NewAreaFromBytes([]byte("0123"), 0)
	_, err := area.Request(2, 8)
	assert.Error(t, err)
	assert.Equal(t, 0, area.Borrowed())
}

func TestAreaBase(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/libc.a", []byte("!<arch>\nmember-bytes"), 0644))

	// a nonzero base models an archive member
	area, err := NewArea(fs, "/lib/libc.a", 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), area.Base())

	region, err := area.Request(0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("member"), region.Bytes())
	area.Release(region)
}

func TestAreaMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := NewArea(fs, "/nope.o", 0)
	assert.Error(t, err)
}

func TestAreaDoubleReleasePanics(t *testing.T) {
	area := NewAreaFromBytes([]byte("abcd"), 0)
	region, err := area.Request(0, 2)
	require.NoError(t, err)
	area.Release(region)
	assert.Panics(t, func() { area.Release(region) })
}
