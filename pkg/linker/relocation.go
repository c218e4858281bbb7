package linker

import (
	"encoding/binary"
)

// Result is an applicator's outcome for one relocation site.
type Result int

const (
	ResultOK Result = iota
	ResultOverflow
	ResultBadReloc
	ResultUnsupport
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultOverflow:
		return "overflow"
	case ResultBadReloc:
		return "bad reloc"
	case ResultUnsupport:
		return "unsupport"
	}
	return "unknown"
}

// Relocation is one relocation site. Sym is nil when the site names no
// symbol: an input relocation against symbol index 0, an R_*_RELATIVE
// output entry, or a MIPS R_MIPS_REL32 entry for a local GOT symbol.
// TargetRef addresses the patched bytes.
type Relocation struct {
	Type      uint32
	Sym       *ResolveInfo
	TargetRef *FragmentRef
	Addend    int64
}

func NewRelocation(typ uint32, sym *ResolveInfo, targetRef *FragmentRef, addend int64) *Relocation {
	return &Relocation{Type: typ, Sym: sym, TargetRef: targetRef, Addend: addend}
}

// Target reads the instruction/data word currently at the site.
func (r *Relocation) Target(order binary.ByteOrder) uint32 {
	return order.Uint32(r.TargetRef.Bytes(4))
}

func (r *Relocation) SetTarget(order binary.ByteOrder, val uint32) {
	order.PutUint32(r.TargetRef.Bytes(4), val)
}

// TargetHalf reads the halfword at off inside the site; the Thumb
// applicators address the BL/BLX pair halfword-wise.
func (r *Relocation) TargetHalf(order binary.ByteOrder, off uint64) uint16 {
	return order.Uint16(r.Frag().Data[r.TargetRef.Offset+off : r.TargetRef.Offset+off+2])
}

func (r *Relocation) SetTargetHalf(order binary.ByteOrder, off uint64, val uint16) {
	order.PutUint16(r.Frag().Data[r.TargetRef.Offset+off:r.TargetRef.Offset+off+2], val)
}

func (r *Relocation) Frag() *Fragment {
	return r.TargetRef.Frag
}

// Place is P: the runtime address of the site.
func (r *Relocation) Place() uint64 {
	return r.TargetRef.Address()
}

// SymValue is S at apply time. An undefined weak symbol resolves to
// zero.
func (r *Relocation) SymValue() uint64 {
	if r.Sym == nil {
		return 0
	}
	return r.Sym.SymValue()
}

// RelocSection couples an input section's realized relocations to the
// section they patch.
type RelocSection struct {
	Section *LDSection // the SHT_REL input section
	Target  *LDSection // the section the relocations patch
	Relocs  []*Relocation
}

// Relocator applies one architecture's relocations. ApplyAll walks one
// realized relocation list; pairing mechanics (MIPS AHL) live behind
// this boundary.
type Relocator interface {
	ApplyAll(rs *RelocSection) error
	Name(typ uint32) string
}
