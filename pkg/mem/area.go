// Package mem provides windowed access to an input file's byte range.
// An Area owns the bytes of one file (or one archive member); a Region
// is a borrowed window into it. Request and Release must pair up before
// the owning phase returns.
package mem

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type Area struct {
	fs       afero.Fs
	path     string
	base     uint64
	content  []byte
	borrowed int
}

// NewArea loads path through fs. base is the file-offset base of the
// area; nonzero when the area covers an archive member.
func NewArea(fs afero.Fs, path string, base uint64) (*Area, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if base > uint64(len(content)) {
		return nil, errors.Errorf("offset base %#x exceeds %s", base, path)
	}
	return &Area{fs: fs, path: path, base: base, content: content[base:]}, nil
}

// NewAreaFromBytes wraps an in-memory byte range. Used for archive
// members carved out of an already-loaded archive, and by tests.
func NewAreaFromBytes(content []byte, base uint64) *Area {
	return &Area{base: base, content: content}
}

func (a *Area) Path() string { return a.path }

func (a *Area) Base() uint64 { return a.base }

func (a *Area) Size() uint64 { return uint64(len(a.content)) }

type Region struct {
	area *Area
	off  uint64
	size uint64
}

// Request borrows [off, off+size) relative to the area base.
func (a *Area) Request(off, size uint64) (*Region, error) {
	if off+size > uint64(len(a.content)) || off+size < off {
		return nil, errors.Errorf("region [%#x,%#x) exceeds area of %d bytes",
			off, off+size, len(a.content))
	}
	a.borrowed++
	return &Region{area: a, off: off, size: size}, nil
}

// Release returns a borrowed region. Releasing a region twice or one
// from another area is a caller bug.
func (a *Area) Release(r *Region) {
	if r == nil {
		return
	}
	if r.area != a || a.borrowed == 0 {
		panic("mem: release of a region this area does not own")
	}
	a.borrowed--
	r.area = nil
}

// Borrowed reports outstanding regions; zero after a balanced phase.
func (a *Area) Borrowed() int { return a.borrowed }

func (r *Region) Bytes() []byte {
	return r.area.content[r.off : r.off+r.size]
}

func (r *Region) Size() uint64 { return r.size }

func (r *Region) Offset() uint64 { return r.off }
