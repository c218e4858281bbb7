// Package arm is the ARM (32-bit, little-endian) linker backend: the
// GOT/PLT shape, the relocation-scan policy and the relocation engine.
package arm

import (
	"debug/elf"

	"go.uber.org/zap"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/linker"
)

// Reserved-flags bits the scan records on a ResolveInfo.
const (
	ReserveRel  uint32 = 0x1
	ReserveGOT  uint32 = 0x2
	GOTRel      uint32 = 0x4
	ReservePLT  uint32 = 0x8
	ReserveCopy uint32 = 0x10
)

const (
	plt0Size = 20
	plt1Size = 12
)

type Backend struct {
	*linker.GNUBackend
	cfg       *linker.Config
	relocator *Relocator
	gotSym    *linker.LDSymbol
}

func NewBackend(cfg *linker.Config, d *diag.Engine) *Backend {
	b := &Backend{
		GNUBackend: linker.NewGNUBackend(d),
		cfg:        cfg,
	}
	b.relocator = NewRelocator(b)
	return b
}

func (b *Backend) Base() *linker.GNUBackend { return b.GNUBackend }

func (b *Backend) Machine() uint16 { return uint16(elf.EM_ARM) }

func (b *Backend) Flags() uint32 { return linker.EF_ARM_EABI_VER5 }

func (b *Backend) DefaultTextSegmentAddr() uint64 { return 0x8000 }

func (b *Backend) ABIPageSize() uint64 { return 0x1000 }

func (b *Backend) Relocator() linker.Relocator { return b.relocator }

func (b *Backend) InitTargetSections(m *linker.Module) {
	if b.cfg.IsObject() {
		return
	}
	got := m.GetOutputSection(".got", linker.SectionTarget,
		uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	b.GOT = linker.NewGOT(got, 3)

	plt := m.GetOutputSection(".plt", linker.SectionTarget,
		uint32(elf.SHT_PROGBITS), uint32(elf.SHF_ALLOC|elf.SHF_EXECINSTR))
	b.PLT = linker.NewPLT(plt, b.GOT, plt0Size, plt1Size)

	relDyn := m.GetOutputSection(".rel.dyn", linker.SectionRelocation,
		uint32(elf.SHT_REL), uint32(elf.SHF_ALLOC))
	b.RelDyn = linker.NewOutputRelocSection(relDyn)

	relPLT := m.GetOutputSection(".rel.plt", linker.SectionRelocation,
		uint32(elf.SHT_REL), uint32(elf.SHF_ALLOC))
	b.RelPLT = linker.NewOutputRelocSection(relPLT)

	b.InitCommonSections(m, b.cfg)
	if b.DynSymSect != nil {
		relDyn.Link = b.DynSymSect
		relPLT.Link = b.DynSymSect
	}
}

func (b *Backend) InitTargetSymbols(l *linker.Linker) {
	b.relocator.SetLinker(l)
	b.gotSym = l.DefineSymbol("_GLOBAL_OFFSET_TABLE_",
		linker.TypeObject, linker.DescDefine, linker.BindLocal,
		0, 0, linker.VisHidden, nil)
	b.GOTSymbol = b.gotSym
}

// ScanRelocation decides the output reservations one input site
// induces. Runs before layout, once per relocation.
func (b *Backend) ScanRelocation(reloc *linker.Relocation, l *linker.Linker,
	m *linker.Module, sect *linker.LDSection) {
	rsym := reloc.Sym
	if rsym == nil || !sect.IsAlloc() {
		return
	}
	if rsym.IsLocal() {
		b.scanLocalReloc(reloc, l)
	} else {
		b.scanGlobalReloc(reloc, l, m)
	}
	if rsym.Reserved&ReserveRel != 0 {
		b.CheckAndSetHasTextRel(sect)
	}
}

func (b *Backend) scanLocalReloc(reloc *linker.Relocation, l *linker.Linker) {
	rsym := reloc.Sym
	switch elf.R_ARM(reloc.Type) {
	case elf.R_ARM_ABS32, elf.R_ARM_ABS32_NOI:
		// absolute word in a shared object must be rebased at load
		if l.Config().IsDynObj() {
			b.RelDyn.Reserve(1)
			rsym.Reserved |= ReserveRel
		}
	case elf.R_ARM_GOT32, elf.R_ARM_GOT_PREL:
		if rsym.Reserved&(ReserveGOT|GOTRel) != 0 {
			return
		}
		b.GOT.Reserve(1)
		if l.Config().IsDynObj() {
			b.RelDyn.Reserve(1)
			rsym.Reserved |= GOTRel
		} else {
			rsym.Reserved |= ReserveGOT
		}
	}
}

func (b *Backend) scanGlobalReloc(reloc *linker.Relocation, l *linker.Linker,
	m *linker.Module) {
	rsym := reloc.Sym
	switch elf.R_ARM(reloc.Type) {
	case elf.R_ARM_ABS32, elf.R_ARM_ABS32_NOI:
		if l.SymbolNeedsDynRel(rsym, true) {
			if l.Config().IsExec() && rsym.IsDyn() && rsym.Type == linker.TypeObject {
				b.reserveCopyReloc(rsym, l, m)
				return
			}
			b.RelDyn.Reserve(1)
			rsym.Reserved |= ReserveRel
		}

	case elf.R_ARM_CALL, elf.R_ARM_JUMP24, elf.R_ARM_PLT32,
		elf.R_ARM_THM_PC22, elf.R_ARM_THM_JUMP24:
		if rsym.Reserved&ReservePLT != 0 {
			return
		}
		if l.IsSymbolPreemptible(rsym) || rsym.IsDyn() {
			b.PLT.Reserve(1)
			b.RelPLT.Reserve(1)
			rsym.Reserved |= ReservePLT
		}

	case elf.R_ARM_GOT32, elf.R_ARM_GOT_PREL:
		if rsym.Reserved&(ReserveGOT|GOTRel) != 0 {
			return
		}
		b.GOT.Reserve(1)
		if l.Config().IsDynObj() || rsym.IsDyn() || rsym.IsUndef() {
			b.RelDyn.Reserve(1)
			rsym.Reserved |= GOTRel
		} else {
			rsym.Reserved |= ReserveGOT
		}
	}
}

// reserveCopyReloc gives a dyn-defined data symbol a home in the
// executable's .bss and books the R_ARM_COPY that fills it at load.
func (b *Backend) reserveCopyReloc(rsym *linker.ResolveInfo, l *linker.Linker,
	m *linker.Module) {
	if rsym.Reserved&ReserveCopy != 0 {
		return
	}
	bss := m.GetOutputSection(".bss", linker.SectionBSS,
		uint32(elf.SHT_NOBITS), uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	frag := linker.NewFillFragment(0, 1, rsym.Size)
	bss.GetSectionData().Append(frag, 4)

	sym := l.DefineSymbol(rsym.Name, rsym.Type, linker.DescDefine, linker.BindGlobal,
		rsym.Size, 0, rsym.Vis, linker.NewFragmentRef(frag, 0))
	sym.Info.Dyn = false

	b.RelDyn.Reserve(1)
	entry, _ := b.RelDyn.GetEntry(rsym, true)
	entry.Type = uint32(elf.R_ARM_COPY)
	entry.TargetRef = linker.NewFragmentRef(frag, 0)
	rsym.Reserved |= ReserveCopy
}

func (b *Backend) PreLayout(l *linker.Linker) {
	if b.cfg.IsObject() {
		return
	}
	b.GOT.FinalizeSectionSize()
	b.PLT.FinalizeSectionSize()
	b.RelDyn.FinalizeSectionSize()
	b.RelPLT.FinalizeSectionSize()
	b.SizeNamePools(l)
	b.Diag.Logger().Debug("arm prelayout",
		zap.Int("got", b.GOT.EntryCount()),
		zap.Int("plt", b.PLT.EntryCount()),
		zap.Int("rel.dyn", b.RelDyn.EntryCount()),
		zap.Int("rel.plt", b.RelPLT.EntryCount()))
}

func (b *Backend) FinalizeTargetSymbols(l *linker.Linker) {
	if b.gotSym != nil && b.GOT != nil {
		b.gotSym.Value = b.GOT.Section.Addr
		b.gotSym.Info.Value = b.GOT.Section.Addr
	}
}

// armPLT0 and armPLT1 are the canonical EABI stub templates; the last
// PLT0 word and the PLT1 immediates are patched with GOT distances.
var armPLT0 = [5]uint32{0xe52de004, 0xe59fe004, 0xe08fe00e, 0xe5bef008, 0x0}

var armPLT1 = [3]uint32{0xe28fc600, 0xe28cca00, 0xe5bcf000}

// PostRelocate fills stub bytes and lazy GOT slots once every address
// is final.
func (b *Backend) PostRelocate(l *linker.Linker) {
	if b.cfg.IsObject() || !b.PLT.HasEntries() && !b.GOT.HasEntries() {
		return
	}
	order := b.relocator.order
	gotAddr := b.GOT.Section.Addr
	pltAddr := b.PLT.Section.Addr

	// PLT0: the offset word is &GOT[0] - (PLT0 + 16)
	plt0 := b.PLT.Data.Fragments[0]
	for i, word := range armPLT0 {
		order.PutUint32(plt0.Data[i*4:], word)
	}
	order.PutUint32(plt0.Data[16:], uint32(gotAddr-(pltAddr+16)))

	b.PLT.ForEachEntry(func(sym *linker.ResolveInfo, stub *linker.Fragment) {
		gotplt, _ := b.PLT.GetGOTPLTEntry(sym)
		// lazy binding: the slot starts out pointing at PLT0
		gotplt.SetContent(order, uint32(pltAddr))

		offset := uint32(gotplt.Address() - (stub.Address() + 8))
		order.PutUint32(stub.Data[0:], armPLT1[0]|((offset>>20)&0xff))
		order.PutUint32(stub.Data[4:], armPLT1[1]|((offset>>12)&0xff))
		order.PutUint32(stub.Data[8:], armPLT1[2]|(offset&0xfff))
	})

	// GOT[0] holds the .dynamic address for the dynamic linker
	if b.DynamicSect != nil && len(b.GOT.Data.Fragments) > 0 {
		b.GOT.Data.Fragments[0].SetContent(order, uint32(b.DynamicSect.Addr))
	}
}
