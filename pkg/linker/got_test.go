package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGOTForTest(headerNum int) *GOT {
	sect := NewLDSection(".got", SectionTarget, uint32(elf.SHT_PROGBITS),
		uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	return NewGOT(sect, headerNum)
}

func TestGOTAtMostOneEntryPerSymbol(t *testing.T) {
	got := newGOTForTest(2)
	sym := NewResolveInfo("foo")

	got.Reserve(1)
	entry, exist := got.GetEntry(sym)
	require.NotNil(t, entry)
	assert.False(t, exist)

	again, exist := got.GetEntry(sym)
	assert.True(t, exist)
	assert.Same(t, entry, again)
	assert.Equal(t, 3, got.EntryCount())
}

func TestGOTEntryOffsets(t *testing.T) {
	got := newGOTForTest(2)
	a := NewResolveInfo("a")
	b := NewResolveInfo("b")
	got.Reserve(2)

	entryA, _ := got.GetEntry(a)
	entryB, _ := got.GetEntry(b)
	// two header words precede the first real entry
	assert.Equal(t, uint64(8), entryA.Offset)
	assert.Equal(t, uint64(12), entryB.Offset)

	got.FinalizeSectionSize()
	assert.Equal(t, uint64(16), got.Section.Size)
}

func TestPLTPairsGOTPLTAndRelPLT(t *testing.T) {
	got := newGOTForTest(3)
	pltSect := NewLDSection(".plt", SectionTarget, uint32(elf.SHT_PROGBITS),
		uint32(elf.SHF_ALLOC|elf.SHF_EXECINSTR))
	plt := NewPLT(pltSect, got, 20, 12)

	relSect := NewLDSection(".rel.plt", SectionRelocation, uint32(elf.SHT_REL),
		uint32(elf.SHF_ALLOC))
	relPLT := NewOutputRelocSection(relSect)

	sym := NewResolveInfo("puts")
	plt.Reserve(1)
	relPLT.Reserve(1)

	stub, exist := plt.GetEntry(sym)
	require.False(t, exist)
	require.NotNil(t, stub)
	// PLT0 leads, the first stub follows it
	assert.Equal(t, uint64(20), stub.Offset)

	gotplt, exist := plt.GetGOTPLTEntry(sym)
	require.False(t, exist)
	require.NotNil(t, gotplt)

	rel, exist := relPLT.GetEntry(sym, true)
	require.False(t, exist)
	rel.Type = uint32(elf.R_ARM_JUMP_SLOT)
	rel.TargetRef = NewFragmentRef(gotplt, 0)

	// at most one of each per symbol
	stub2, exist := plt.GetEntry(sym)
	assert.True(t, exist)
	assert.Same(t, stub, stub2)
	gotplt2, exist := plt.GetGOTPLTEntry(sym)
	assert.True(t, exist)
	assert.Same(t, gotplt, gotplt2)
	rel2, exist := relPLT.GetEntry(sym, true)
	assert.True(t, exist)
	assert.Same(t, rel, rel2)

	assert.Equal(t, 1, plt.EntryCount())
	assert.Equal(t, 1, relPLT.EntryCount())
}

func TestOutputRelocPlainEntriesAreFresh(t *testing.T) {
	relSect := NewLDSection(".rel.dyn", SectionRelocation, uint32(elf.SHT_REL),
		uint32(elf.SHF_ALLOC))
	relDyn := NewOutputRelocSection(relSect)
	sym := NewResolveInfo("foo")

	relDyn.Reserve(2)
	first, exist := relDyn.GetEntry(sym, false)
	assert.False(t, exist)
	second, exist := relDyn.GetEntry(sym, false)
	assert.False(t, exist)
	assert.NotSame(t, first, second)

	relDyn.FinalizeSectionSize()
	assert.Equal(t, uint64(2*RelSize), relSect.Size)
}

func TestFragmentAppendAligns(t *testing.T) {
	sect := NewLDSection(".data", SectionRegular, uint32(elf.SHT_PROGBITS),
		uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	data := sect.GetSectionData()

	first := NewRegionFragment([]byte{1, 2, 3})
	data.Append(first, 1)
	second := NewRegionFragment([]byte{4, 5, 6, 7})
	data.Append(second, 8)

	assert.Equal(t, uint64(0), first.Offset)
	assert.Equal(t, uint64(8), second.Offset)
	assert.Equal(t, uint64(12), data.ComputeSize())

	sect.Addr = 0x1000
	ref := NewFragmentRef(second, 2)
	assert.Equal(t, uint64(0x100a), ref.Address())
	assert.Equal(t, uint64(10), ref.OutputOffset())
	assert.Equal(t, []byte{6, 7}, ref.Bytes(2))
}

func TestFillFragmentSize(t *testing.T) {
	frag := NewFillFragment(0, 1, 64)
	assert.Equal(t, uint64(64), frag.Size())
	assert.Equal(t, uint64(6), NewTargetFragment(6).Size())
}
