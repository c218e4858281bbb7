package mips

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/linker"
)

func newTestBackend(t *testing.T, outputType linker.OutputType) (*Backend, *linker.Linker, *linker.Module) {
	t.Helper()
	cfg := linker.NewConfig()
	cfg.OutputType = outputType
	cfg.Machine = uint16(elf.EM_MIPS)
	d := diag.NewEngine(nil)
	b := NewBackend(cfg, d)
	m := linker.NewModule("test")
	b.InitTargetSections(m)
	l := linker.NewLinker(cfg, m, d)
	b.relocator.SetLinker(l)
	return b, l, m
}

func definedObj(name string, value uint64) *linker.ResolveInfo {
	info := linker.NewResolveInfo(name)
	info.Type = linker.TypeObject
	info.Desc = linker.DescDefine
	info.Binding = linker.BindGlobal
	info.Value = value
	return info
}

// makeSites lays words out back to back in one section and returns a
// relocation per word.
func makeSites(sectAddr uint64, words []uint32, types []uint32,
	syms []*linker.ResolveInfo) []*linker.Relocation {
	sect := linker.NewLDSection(".text", linker.SectionRegular,
		uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_EXECINSTR))
	raw := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	frag := linker.NewRegionFragment(raw)
	sect.GetSectionData().Append(frag, 4)
	sect.Addr = sectAddr

	relocs := make([]*linker.Relocation, len(words))
	for i := range words {
		relocs[i] = linker.NewRelocation(types[i], syms[i],
			linker.NewFragmentRef(frag, uint64(i*4)), 0)
	}
	return relocs
}

// S3: a HI16/LO16 pair against an ordinary symbol.
func TestHi16Lo16Pair(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)
	sym := definedObj("var", 0x00400800)

	relocs := makeSites(0, []uint32{0x3c080000, 0x25080000},
		[]uint32{uint32(elf.R_MIPS_HI16), uint32(elf.R_MIPS_LO16)},
		[]*linker.ResolveInfo{sym, sym})

	rs := &linker.RelocSection{Relocs: relocs}
	require.NoError(t, b.relocator.ApplyAll(rs))

	order := b.relocator.order
	assert.Equal(t, uint32(0x3c080040), relocs[0].Target(order))
	assert.Equal(t, uint32(0x25080800), relocs[1].Target(order))
}

// The HI16 result honors the carry out of the low half.
func TestHi16CarriesLowHalf(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)
	sym := definedObj("var", 0x00409000) // low half >= 0x8000

	relocs := makeSites(0, []uint32{0x3c080000, 0x25080000},
		[]uint32{uint32(elf.R_MIPS_HI16), uint32(elf.R_MIPS_LO16)},
		[]*linker.ResolveInfo{sym, sym})

	rs := &linker.RelocSection{Relocs: relocs}
	require.NoError(t, b.relocator.ApplyAll(rs))

	order := b.relocator.order
	// (S - (int16)S) >> 16 rounds the high half up
	assert.Equal(t, uint32(0x3c080041), relocs[0].Target(order))
	assert.Equal(t, uint32(0x25089000), relocs[1].Target(order))
}

// AHL is a pure function of the pair: the same immediates always
// produce the same AHL regardless of engine history.
func TestAHLPureFunction(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)
	symA := definedObj("a", 0x00400800)
	symB := definedObj("b", 0x00500000)

	// interleave two pairs; the second pair must be unaffected
	relocs := makeSites(0,
		[]uint32{0x3c080012, 0x3c090000, 0x25080034, 0x25290000},
		[]uint32{uint32(elf.R_MIPS_HI16), uint32(elf.R_MIPS_HI16),
			uint32(elf.R_MIPS_LO16), uint32(elf.R_MIPS_LO16)},
		[]*linker.ResolveInfo{symA, symB, symA, symB})

	rs := &linker.RelocSection{Relocs: relocs}
	require.NoError(t, b.relocator.ApplyAll(rs))

	order := b.relocator.order
	// pair A: AHL = (0x12 << 16) + 0x34; S = 0x400800
	// HI: ((AHL + S) - (int16)(AHL + S)) >> 16 = 0x52
	assert.Equal(t, uint32(0x3c080052), relocs[0].Target(order))
	assert.Equal(t, uint32(0x25080834), relocs[2].Target(order))
	// pair B stands alone
	assert.Equal(t, uint32(0x3c090050), relocs[1].Target(order))
	assert.Equal(t, uint32(0x25290000), relocs[3].Target(order))
}

// S4: GOT16 against a global symbol whose slot sits at offset 16.
func TestGot16GlobalOffset(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)

	// burn the two slots after the got header so the target symbol
	// lands at offset 16
	b.GOT.Reserve(3)
	for _, name := range []string{"pad1", "pad2"} {
		pad := definedObj(name, 0)
		pad.Reserved = ReserveGot
		relocs := makeSites(0, []uint32{0x8f820000},
			[]uint32{uint32(elf.R_MIPS_GOT16)}, []*linker.ResolveInfo{pad})
		require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))
	}

	sym := definedObj("g", 0x1234)
	sym.Reserved = ReserveGot
	relocs := makeSites(0, []uint32{0x8f820000},
		[]uint32{uint32(elf.R_MIPS_GOT16)}, []*linker.ResolveInfo{sym})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))

	entry, exist := b.GOT.GetEntry(sym)
	require.True(t, exist)
	assert.Equal(t, uint64(16), entry.Offset)
	// G = 16 - 0x7FF0 = -0x7FE0, truncated to 16 bits
	assert.Equal(t, uint32(0x8f828020), relocs[0].Target(b.relocator.order))
}

// GOT16 against a local section symbol materializes the page entry.
func TestGot16LocalSection(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)

	sym := linker.NewResolveInfo(".data")
	sym.Type = linker.TypeSection
	sym.Desc = linker.DescDefine
	sym.Binding = linker.BindLocal
	sym.Value = 0x00410810
	b.SetLocalGOT(sym)
	b.GOT.Reserve(1)

	relocs := makeSites(0, []uint32{0x8f820000, 0x25080000},
		[]uint32{uint32(elf.R_MIPS_GOT16), uint32(elf.R_MIPS_LO16)},
		[]*linker.ResolveInfo{sym, sym})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))

	entry, exist := b.GOT.GetEntry(sym)
	require.True(t, exist)
	// the entry holds the 64K page of AHL + S
	assert.Equal(t, uint32(0x00410000),
		entry.Content(b.relocator.order))
}

func TestAbs32Static(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)
	sym := definedObj("var", 0x400000)

	relocs := makeSites(0, []uint32{0x10}, // implicit addend 0x10
		[]uint32{uint32(elf.R_MIPS_32)}, []*linker.ResolveInfo{sym})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))
	assert.Equal(t, uint32(0x400010), relocs[0].Target(b.relocator.order))
}

// Local R_MIPS_32 with a reserved dynamic slot emits R_MIPS_REL32
// with a null symbol and pre-applies A + S.
func TestAbs32LocalDynRel(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputDynObj)

	sym := definedObj("local_var", 0x400000)
	sym.Binding = linker.BindLocal
	sym.Reserved = ReserveRel
	b.SetLocalGOT(sym)
	b.RelDyn.Reserve(1)

	relocs := makeSites(0, []uint32{0x10},
		[]uint32{uint32(elf.R_MIPS_32)}, []*linker.ResolveInfo{sym})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))

	entries := b.RelDyn.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(elf.R_MIPS_REL32), entries[0].Type)
	assert.Nil(t, entries[0].Sym)
	assert.Equal(t, uint32(0x400010), relocs[0].Target(b.relocator.order))
}

// Global R_MIPS_32 with a dynamic slot names the symbol and leaves
// only the addend in place for the runtime to finish.
func TestAbs32GlobalDynRel(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputDynObj)

	sym := definedObj("exported", 0x400000)
	sym.Reserved = ReserveRel
	b.SetGlobalGOT(sym)
	b.RelDyn.Reserve(1)

	relocs := makeSites(0, []uint32{0x10},
		[]uint32{uint32(elf.R_MIPS_32)}, []*linker.ResolveInfo{sym})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))

	entries := b.RelDyn.Entries()
	require.Len(t, entries, 1)
	assert.Same(t, sym, entries[0].Sym)
	assert.Equal(t, uint32(0x10), relocs[0].Target(b.relocator.order))
}

func TestGprel32(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)
	b.GOT.Section.Addr = 0x10000
	sym := definedObj("small_data", 0x18000)

	relocs := makeSites(0, []uint32{0},
		[]uint32{uint32(elf.R_MIPS_GPREL32)}, []*linker.ResolveInfo{sym})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))

	// A + S - GP with GP = GOT + 0x7FF0
	want := uint32(0x18000 - (0x10000 + 0x7ff0))
	assert.Equal(t, want, relocs[0].Target(b.relocator.order))
}

// A HI16 with no paired LO16 is a malformed input, reported and
// survived on MIPS.
func TestHi16MissingPairContinues(t *testing.T) {
	b, _, _ := newTestBackend(t, linker.OutputExec)
	sym := definedObj("var", 0x400800)

	relocs := makeSites(0, []uint32{0x3c080000},
		[]uint32{uint32(elf.R_MIPS_HI16)}, []*linker.ResolveInfo{sym})
	err := b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs})
	assert.Error(t, err)
}

// _gp_disp: HI16/LO16 measure the distance from the site to the GP.
func TestGpDispPair(t *testing.T) {
	b, l, _ := newTestBackend(t, linker.OutputExec)
	b.InitTargetSymbols(l)
	b.GOT.Section.Addr = 0x418000
	b.FinalizeTargetSymbols(l)

	gpDisp := b.gpDispSym.Info

	relocs := makeSites(0x400000, []uint32{0x3c1c0000, 0x279c0000},
		[]uint32{uint32(elf.R_MIPS_HI16), uint32(elf.R_MIPS_LO16)},
		[]*linker.ResolveInfo{gpDisp, gpDisp})
	require.NoError(t, b.relocator.ApplyAll(&linker.RelocSection{Relocs: relocs}))

	order := b.relocator.order
	// GP - P = 0x418000 + 0x7FF0 - 0x400000 = 0x1FFF0
	// HI: (0x1FFF0 - (int16)0x1FFF0) >> 16 = 2
	// LO: AHL + GP - P(lo) + 4 = 0x41FFF0 - 0x400004 + 4 = 0x1FFF0, low
	// half 0xFFF0; lui 2 plus addiu -16 rebuilds GP - P(hi)
	assert.Equal(t, uint32(0x3c1c0002), relocs[0].Target(order))
	assert.Equal(t, uint32(0x279cfff0), relocs[1].Target(order))
}

func TestScanGot16ReservesOnce(t *testing.T) {
	b, l, m := newTestBackend(t, linker.OutputDynObj)

	sym := definedObj("callee", 0x9000)
	sym.Dyn = true
	sym.Desc = linker.DescUndefined

	sect := linker.NewLDSection(".text", linker.SectionRegular,
		uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_EXECINSTR))
	frag := linker.NewRegionFragment(make([]byte, 8))
	sect.GetSectionData().Append(frag, 4)

	for off := uint64(0); off < 8; off += 4 {
		reloc := linker.NewRelocation(uint32(elf.R_MIPS_CALL16), sym,
			linker.NewFragmentRef(frag, off), 0)
		b.ScanRelocation(reloc, l, m, sect)
	}
	assert.Equal(t, ReserveGot, sym.Reserved&ReserveGot)
	assert.Equal(t, 3, b.GOT.EntryCount()) // 2 header + 1 reserved
}

func TestScanSkipsGpDisp(t *testing.T) {
	b, l, m := newTestBackend(t, linker.OutputDynObj)
	b.InitTargetSymbols(l)

	sect := linker.NewLDSection(".text", linker.SectionRegular,
		uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_EXECINSTR))
	frag := linker.NewRegionFragment(make([]byte, 4))
	sect.GetSectionData().Append(frag, 4)

	reloc := linker.NewRelocation(uint32(elf.R_MIPS_HI16), b.gpDispSym.Info,
		linker.NewFragmentRef(frag, 0), 0)
	b.ScanRelocation(reloc, l, m, sect)

	assert.Equal(t, ReserveGpDisp, b.gpDispSym.Info.Reserved)
	assert.Equal(t, 2, b.GOT.EntryCount())
}
