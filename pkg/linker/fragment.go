package linker

import (
	"encoding/binary"

	"github.com/syfchao/mclinker/pkg/utils"
)

type FragmentKind uint8

const (
	FragFill FragmentKind = iota
	FragRegion
	FragAlign
	FragTarget
)

// Fragment is a kind-tagged variant of output section content.
//
//	Fill:   Pattern repeated; Size() = PatSize * Count.
//	Region: an owned copy of input bytes, patched in place by the
//	        relocation engine.
//	Align:  padding up to Pad bytes.
//	Target: backend-owned content (GOT entry, PLT stub).
type Fragment struct {
	Kind    FragmentKind
	Offset  uint64
	Data    []byte
	Pattern byte
	PatSize uint64
	Count   uint64
	Pad     uint64
	Parent  *SectionData
}

func NewFillFragment(pattern byte, patSize, count uint64) *Fragment {
	return &Fragment{Kind: FragFill, Pattern: pattern, PatSize: patSize, Count: count}
}

func NewRegionFragment(data []byte) *Fragment {
	owned := make([]byte, len(data))
	copy(owned, data)
	return &Fragment{Kind: FragRegion, Data: owned}
}

func NewAlignFragment(pad uint64) *Fragment {
	return &Fragment{Kind: FragAlign, Pad: pad}
}

func NewTargetFragment(size uint64) *Fragment {
	return &Fragment{Kind: FragTarget, Data: make([]byte, size)}
}

func (f *Fragment) Size() uint64 {
	switch f.Kind {
	case FragFill:
		return f.PatSize * f.Count
	case FragRegion, FragTarget:
		return uint64(len(f.Data))
	case FragAlign:
		return f.Pad
	}
	return 0
}

// SetContent stores a target fragment's content word.
func (f *Fragment) SetContent(order binary.ByteOrder, val uint32) {
	utils.Assert(f.Kind == FragTarget && len(f.Data) >= 4)
	order.PutUint32(f.Data, val)
}

func (f *Fragment) Content(order binary.ByteOrder) uint32 {
	utils.Assert(f.Kind == FragTarget && len(f.Data) >= 4)
	return order.Uint32(f.Data)
}

// Address is valid after layout assigned section addresses and
// fragment offsets.
func (f *Fragment) Address() uint64 {
	utils.Assert(f.Parent != nil && f.Parent.Section != nil)
	return f.Parent.Section.Addr + f.Offset
}

// SectionData is the fragment list of exactly one LDSection. The
// back-reference is weak; the section owns the data.
type SectionData struct {
	Section   *LDSection
	Fragments []*Fragment
}

// Append places frag at the section's tail, honoring align, and
// returns the bytes the section grew by.
func (sd *SectionData) Append(frag *Fragment, align uint64) uint64 {
	utils.Assert(align == 0 || utils.IsPowerOfTwo(align))
	before := uint64(0)
	if n := len(sd.Fragments); n > 0 {
		last := sd.Fragments[n-1]
		before = last.Offset + last.Size()
	}
	offset := utils.AlignTo(before, align)
	frag.Offset = offset
	frag.Parent = sd
	sd.Fragments = append(sd.Fragments, frag)
	return offset + frag.Size() - before
}

func (sd *SectionData) ComputeSize() uint64 {
	if n := len(sd.Fragments); n > 0 {
		last := sd.Fragments[n-1]
		return last.Offset + last.Size()
	}
	return 0
}

// FragmentRef addresses a byte inside a fragment.
type FragmentRef struct {
	Frag   *Fragment
	Offset uint64
}

func NewFragmentRef(frag *Fragment, offset uint64) *FragmentRef {
	return &FragmentRef{Frag: frag, Offset: offset}
}

func (r *FragmentRef) Address() uint64 {
	return r.Frag.Address() + r.Offset
}

// OutputOffset is the offset inside the owning output section.
func (r *FragmentRef) OutputOffset() uint64 {
	return r.Frag.Offset + r.Offset
}

// Bytes lends the n bytes at the referenced location. Only Region and
// Target fragments have addressable bytes.
func (r *FragmentRef) Bytes(n uint64) []byte {
	utils.Assert(r.Frag.Kind == FragRegion || r.Frag.Kind == FragTarget)
	utils.Assert(r.Offset+n <= uint64(len(r.Frag.Data)))
	return r.Frag.Data[r.Offset : r.Offset+n]
}
