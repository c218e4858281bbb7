// Package mips is the MIPS (32-bit o32, little-endian) linker backend.
// Classic o32 has no PLT; calls go through GOT entries and the magic
// _gp_disp offset.
package mips

import (
	"debug/elf"

	"go.uber.org/zap"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/linker"
)

// Reserved-flags bits the scan records on a ResolveInfo.
const (
	ReserveRel    uint32 = 0x1
	ReserveGot    uint32 = 0x2
	ReserveGpDisp uint32 = 0x4
)

// relocation types debug/elf does not carry
const (
	rMipsGlobDat  = 51
	rMipsCopy     = 126
	rMipsJumpSlot = 127
)

type Backend struct {
	*linker.GNUBackend
	cfg       *linker.Config
	relocator *Relocator

	gotSym    *linker.LDSymbol
	gpDispSym *linker.LDSymbol

	// local-GOT bookkeeping: a symbol the dynamic linker resolves
	// section-relatively; a "local" mark does not always come with a
	// real GOT slot
	localGOT      map[*linker.ResolveInfo]bool
	globalGOTSyms []*linker.LDSymbol
}

func NewBackend(cfg *linker.Config, d *diag.Engine) *Backend {
	b := &Backend{
		GNUBackend: linker.NewGNUBackend(d),
		cfg:        cfg,
		localGOT:   make(map[*linker.ResolveInfo]bool),
	}
	b.relocator = NewRelocator(b)
	return b
}

func (b *Backend) Base() *linker.GNUBackend { return b.GNUBackend }

func (b *Backend) Machine() uint16 { return uint16(elf.EM_MIPS) }

// The ABI word is fixed; deriving it from inputs stays an open item.
func (b *Backend) Flags() uint32 {
	return linker.EF_MIPS_ARCH_32R2 |
		linker.EF_MIPS_NOREORDER |
		linker.EF_MIPS_PIC |
		linker.EF_MIPS_CPIC |
		linker.E_MIPS_ABI_O32
}

func (b *Backend) DefaultTextSegmentAddr() uint64 { return 0x80000 }

func (b *Backend) ABIPageSize() uint64 { return 0x10000 }

func (b *Backend) Relocator() linker.Relocator { return b.relocator }

func (b *Backend) InitTargetSections(m *linker.Module) {
	if b.cfg.IsObject() {
		return
	}
	got := m.GetOutputSection(".got", linker.SectionTarget,
		uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	b.GOT = linker.NewGOT(got, 2)

	relDyn := m.GetOutputSection(".rel.dyn", linker.SectionRelocation,
		uint32(elf.SHT_REL), uint32(elf.SHF_ALLOC))
	b.RelDyn = linker.NewOutputRelocSection(relDyn)

	b.InitCommonSections(m, b.cfg)
	if b.DynSymSect != nil {
		relDyn.Link = b.DynSymSect
	}
}

func (b *Backend) InitTargetSymbols(l *linker.Linker) {
	b.relocator.SetLinker(l)
	b.gotSym = l.DefineSymbol("_GLOBAL_OFFSET_TABLE_",
		linker.TypeObject, linker.DescDefine, linker.BindLocal,
		0, 0, linker.VisHidden, nil)
	b.GOTSymbol = b.gotSym

	b.gpDispSym = l.DefineSymbol("_gp_disp",
		linker.TypeSection, linker.DescDefine, linker.BindAbsolute,
		0, 0, linker.VisDefault, nil)
	b.gpDispSym.Info.SetReserved(ReserveGpDisp)
}

func (b *Backend) SetLocalGOT(rsym *linker.ResolveInfo) {
	b.localGOT[rsym] = true
}

func (b *Backend) SetGlobalGOT(rsym *linker.ResolveInfo) {
	delete(b.localGOT, rsym)
}

func (b *Backend) IsLocalGOT(rsym *linker.ResolveInfo) bool {
	return b.localGOT[rsym]
}

func (b *Backend) IsGpDisp(rsym *linker.ResolveInfo) bool {
	return b.gpDispSym != nil && b.gpDispSym.Info == rsym
}

// ScanRelocation decides the reservations one site induces. A
// reference to _gp_disp skips scanning entirely.
func (b *Backend) ScanRelocation(reloc *linker.Relocation, l *linker.Linker,
	m *linker.Module, sect *linker.LDSection) {
	rsym := reloc.Sym
	if rsym == nil || b.IsGpDisp(rsym) {
		return
	}
	if !sect.IsAlloc() {
		return
	}

	// treat a symbol the dynamic linker never interposes as local
	if (rsym.IsLocal() || !l.IsDynamicSymbol(rsym) || !rsym.IsDyn()) && !rsym.IsUndef() {
		b.scanLocalReloc(reloc, l)
	} else {
		b.scanGlobalReloc(reloc, l)
	}

	if rsym.Reserved&ReserveRel != 0 {
		b.CheckAndSetHasTextRel(sect)
	}
}

func (b *Backend) scanLocalReloc(reloc *linker.Relocation, l *linker.Linker) {
	rsym := reloc.Sym
	switch elf.R_MIPS(reloc.Type) {
	case elf.R_MIPS_NONE, elf.R_MIPS_16:

	case elf.R_MIPS_32:
		if l.Config().IsDynObj() {
			b.RelDyn.Reserve(1)
			rsym.Reserved |= ReserveRel
			// bookkeeping only; no slot is allocated
			b.SetLocalGOT(rsym)
		}

	case elf.R_MIPS_GOT16, elf.R_MIPS_CALL16:
		// section-based got16 always takes a fresh local entry
		if rsym.Type == linker.TypeSection {
			b.GOT.Reserve(1)
			b.SetLocalGOT(rsym)
			return
		}
		if rsym.Reserved&ReserveGot == 0 {
			b.GOT.Reserve(1)
			rsym.Reserved |= ReserveGot
			b.SetLocalGOT(rsym)
		}

	case elf.R_MIPS_REL32, elf.R_MIPS_26, elf.R_MIPS_HI16, elf.R_MIPS_LO16,
		elf.R_MIPS_PC16, elf.R_MIPS_SHIFT5, elf.R_MIPS_SHIFT6,
		elf.R_MIPS_GOT_PAGE, elf.R_MIPS_GOT_OFST, elf.R_MIPS_SUB,
		elf.R_MIPS_INSERT_A, elf.R_MIPS_INSERT_B, elf.R_MIPS_DELETE,
		elf.R_MIPS_HIGHER, elf.R_MIPS_HIGHEST, elf.R_MIPS_SCN_DISP,
		elf.R_MIPS_REL16, elf.R_MIPS_ADD_IMMEDIATE, elf.R_MIPS_PJUMP,
		elf.R_MIPS_RELGOT, elf.R_MIPS_JALR,
		elf.R_MIPS_GPREL32, elf.R_MIPS_GPREL16, elf.R_MIPS_LITERAL,
		elf.R_MIPS_GOT_DISP, elf.R_MIPS_GOT_HI16, elf.R_MIPS_CALL_HI16,
		elf.R_MIPS_GOT_LO16, elf.R_MIPS_CALL_LO16,
		rMipsGlobDat, rMipsCopy, rMipsJumpSlot:

	case elf.R_MIPS_TLS_DTPMOD32, elf.R_MIPS_TLS_DTPREL32,
		elf.R_MIPS_TLS_GD, elf.R_MIPS_TLS_LDM,
		elf.R_MIPS_TLS_DTPREL_HI16, elf.R_MIPS_TLS_DTPREL_LO16,
		elf.R_MIPS_TLS_GOTTPREL, elf.R_MIPS_TLS_TPREL32,
		elf.R_MIPS_TLS_TPREL_HI16, elf.R_MIPS_TLS_TPREL_LO16:
		// no reservation; the applicator rejects these

	default:
		b.Diag.Fatal(diag.UnknownRelocation,
			zap.Uint32("type", reloc.Type), zap.String("symbol", rsym.Name))
	}
}

func (b *Backend) scanGlobalReloc(reloc *linker.Relocation, l *linker.Linker) {
	rsym := reloc.Sym
	switch elf.R_MIPS(reloc.Type) {
	case elf.R_MIPS_NONE, elf.R_MIPS_INSERT_A, elf.R_MIPS_INSERT_B,
		elf.R_MIPS_DELETE, elf.R_MIPS_REL16, elf.R_MIPS_ADD_IMMEDIATE,
		elf.R_MIPS_PJUMP, elf.R_MIPS_RELGOT:

	case elf.R_MIPS_32, elf.R_MIPS_HI16, elf.R_MIPS_LO16:
		if l.SymbolNeedsDynRel(rsym, true) {
			b.RelDyn.Reserve(1)
			rsym.Reserved |= ReserveRel
			// as if it had an entry; nothing is allocated
			b.SetGlobalGOT(rsym)
		}

	case elf.R_MIPS_GOT16, elf.R_MIPS_CALL16, elf.R_MIPS_GOT_DISP,
		elf.R_MIPS_GOT_HI16, elf.R_MIPS_CALL_HI16, elf.R_MIPS_GOT_LO16,
		elf.R_MIPS_CALL_LO16, elf.R_MIPS_GOT_PAGE, elf.R_MIPS_GOT_OFST:
		if rsym.Reserved&ReserveGot == 0 {
			b.GOT.Reserve(1)
			rsym.Reserved |= ReserveGot
			b.SetGlobalGOT(rsym)
			if rsym.OutSymbol != nil {
				b.globalGOTSyms = append(b.globalGOTSyms, rsym.OutSymbol)
			}
		}

	case elf.R_MIPS_LITERAL, elf.R_MIPS_GPREL32:
		b.Diag.Fatal(diag.InvalidGlobalRelocation,
			zap.Uint32("type", reloc.Type), zap.String("symbol", rsym.Name))

	case elf.R_MIPS_GPREL16, elf.R_MIPS_26, elf.R_MIPS_PC16,
		elf.R_MIPS_16, elf.R_MIPS_SHIFT5, elf.R_MIPS_SHIFT6,
		elf.R_MIPS_SUB, elf.R_MIPS_HIGHER, elf.R_MIPS_HIGHEST,
		elf.R_MIPS_SCN_DISP, elf.R_MIPS_REL32, elf.R_MIPS_JALR:

	case elf.R_MIPS_TLS_DTPMOD32, elf.R_MIPS_TLS_DTPREL32,
		elf.R_MIPS_TLS_GD, elf.R_MIPS_TLS_LDM,
		elf.R_MIPS_TLS_DTPREL_HI16, elf.R_MIPS_TLS_DTPREL_LO16,
		elf.R_MIPS_TLS_GOTTPREL, elf.R_MIPS_TLS_TPREL32,
		elf.R_MIPS_TLS_TPREL_HI16, elf.R_MIPS_TLS_TPREL_LO16:

	case rMipsCopy, rMipsGlobDat, rMipsJumpSlot:
		b.Diag.Fatal(diag.DynamicRelocationInInput, zap.Uint32("type", reloc.Type))

	default:
		b.Diag.Fatal(diag.UnknownRelocation,
			zap.Uint32("type", reloc.Type), zap.String("symbol", rsym.Name))
	}
}

func (b *Backend) PreLayout(l *linker.Linker) {
	if b.cfg.IsObject() {
		return
	}
	b.GOT.FinalizeSectionSize()
	b.RelDyn.FinalizeSectionSize()
	b.SizeNamePools(l)
	b.Diag.Logger().Debug("mips prelayout",
		zap.Int("got", b.GOT.EntryCount()),
		zap.Int("rel.dyn", b.RelDyn.EntryCount()))
}

// FinalizeTargetSymbols: _gp_disp becomes GOT + 0x7FF0 once the GOT
// has an address.
func (b *Backend) FinalizeTargetSymbols(l *linker.Linker) {
	if b.GOT == nil {
		return
	}
	if b.gpDispSym != nil {
		b.gpDispSym.Value = b.GOT.Section.Addr + 0x7FF0
		b.gpDispSym.Info.Value = b.gpDispSym.Value
	}
	if b.gotSym != nil {
		b.gotSym.Value = b.GOT.Section.Addr
		b.gotSym.Info.Value = b.gotSym.Value
	}
}

// PostRelocate seeds the two reserved GOT words: got[0] for the lazy
// resolver, got[1] flags a GNU-style module pointer.
func (b *Backend) PostRelocate(l *linker.Linker) {
	if b.cfg.IsObject() || b.GOT == nil {
		return
	}
	frags := b.GOT.Data.Fragments
	if len(frags) >= 2 {
		frags[0].SetContent(b.relocator.order, 0)
		frags[1].SetContent(b.relocator.order, 0x80000000)
	}
}

// GP is the global-pointer value the relocation engine computes
// against.
func (b *Backend) GP() uint64 {
	return b.GOT.Section.Addr + 0x7FF0
}
