package mips

import (
	"debug/elf"
	"encoding/binary"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/linker"
)

// The dense table covers the classic o32 range; COPY (126) and
// JUMP_SLOT (127) sit far outside it and are rejected before dispatch.
const numRelocTypes = 52

type applyFunc func(reloc *linker.Relocation, p *Relocator) linker.Result

type applyEntry struct {
	fn   applyFunc
	typ  uint32
	name string
}

// Relocator applies MIPS relocations. Overflow and bad-opcode results
// are reported as errors and the link continues; unknown and
// unsupported types terminate it.
//
// ahl is the one register of engine state: every HI16 derives the
// paired AHL and stores it here; the LO16 of a _gp_disp pair consumes
// it. An ordinary LO16 re-derives its own low half from the
// instruction word, so interleaved pairs on other symbols cannot
// corrupt it.
type Relocator struct {
	backend *Backend
	l       *linker.Linker
	d       *diag.Engine
	order   binary.ByteOrder
	table   [numRelocTypes]applyEntry

	ahl     int32
	current []*linker.Relocation
	pos     int
	errs    error
}

func NewRelocator(backend *Backend) *Relocator {
	r := &Relocator{
		backend: backend,
		d:       backend.Diag,
		order:   binary.LittleEndian,
	}
	for i := range r.table {
		r.table[i] = applyEntry{unsupport, uint32(i), "R_MIPS_unknown"}
	}
	for _, entry := range []applyEntry{
		{none, uint32(elf.R_MIPS_NONE), "R_MIPS_NONE"},
		{none, uint32(elf.R_MIPS_JALR), "R_MIPS_JALR"},
		{abs32, uint32(elf.R_MIPS_32), "R_MIPS_32"},
		{rel26, uint32(elf.R_MIPS_26), "R_MIPS_26"},
		{hi16, uint32(elf.R_MIPS_HI16), "R_MIPS_HI16"},
		{lo16, uint32(elf.R_MIPS_LO16), "R_MIPS_LO16"},
		{got16, uint32(elf.R_MIPS_GOT16), "R_MIPS_GOT16"},
		{call16, uint32(elf.R_MIPS_CALL16), "R_MIPS_CALL16"},
		{gotOff, uint32(elf.R_MIPS_GOT_DISP), "R_MIPS_GOT_DISP"},
		{gotOff, uint32(elf.R_MIPS_GOT_HI16), "R_MIPS_GOT_HI16"},
		{gotOff, uint32(elf.R_MIPS_CALL_HI16), "R_MIPS_CALL_HI16"},
		{gotOff, uint32(elf.R_MIPS_GOT_LO16), "R_MIPS_GOT_LO16"},
		{gotOff, uint32(elf.R_MIPS_CALL_LO16), "R_MIPS_CALL_LO16"},
		{gotOff, uint32(elf.R_MIPS_GOT_PAGE), "R_MIPS_GOT_PAGE"},
		{gotOff, uint32(elf.R_MIPS_GOT_OFST), "R_MIPS_GOT_OFST"},
		{gprel32, uint32(elf.R_MIPS_GPREL32), "R_MIPS_GPREL32"},
		{dynOnly, uint32(rMipsGlobDat), "R_MIPS_GLOB_DAT"},
		{tls, uint32(elf.R_MIPS_TLS_DTPMOD32), "R_MIPS_TLS_DTPMOD32"},
		{tls, uint32(elf.R_MIPS_TLS_DTPREL32), "R_MIPS_TLS_DTPREL32"},
		{tls, uint32(elf.R_MIPS_TLS_GD), "R_MIPS_TLS_GD"},
		{tls, uint32(elf.R_MIPS_TLS_LDM), "R_MIPS_TLS_LDM"},
		{tls, uint32(elf.R_MIPS_TLS_DTPREL_HI16), "R_MIPS_TLS_DTPREL_HI16"},
		{tls, uint32(elf.R_MIPS_TLS_DTPREL_LO16), "R_MIPS_TLS_DTPREL_LO16"},
		{tls, uint32(elf.R_MIPS_TLS_GOTTPREL), "R_MIPS_TLS_GOTTPREL"},
		{tls, uint32(elf.R_MIPS_TLS_TPREL32), "R_MIPS_TLS_TPREL32"},
		{tls, uint32(elf.R_MIPS_TLS_TPREL_HI16), "R_MIPS_TLS_TPREL_HI16"},
		{tls, uint32(elf.R_MIPS_TLS_TPREL_LO16), "R_MIPS_TLS_TPREL_LO16"},
	} {
		r.table[entry.typ] = entry
	}
	return r
}

func (r *Relocator) Name(typ uint32) string {
	if typ >= numRelocTypes {
		return "R_MIPS_unknown"
	}
	return r.table[typ].name
}

func (r *Relocator) SetLinker(l *linker.Linker) { r.l = l }

// ApplyAll walks one realized list in order so HI16 can look forward
// for its paired LO16.
func (r *Relocator) ApplyAll(rs *linker.RelocSection) error {
	r.current = rs.Relocs
	r.errs = nil
	for i, reloc := range rs.Relocs {
		r.pos = i
		r.Apply(reloc)
	}
	r.current = nil
	return r.errs
}

func (r *Relocator) Apply(reloc *linker.Relocation) {
	name := ""
	if reloc.Sym != nil {
		name = reloc.Sym.Name
	}
	if reloc.Type >= numRelocTypes {
		if reloc.Type == uint32(rMipsCopy) ||
			reloc.Type == uint32(rMipsJumpSlot) {
			r.d.Fatal(diag.DynamicRelocationInInput, zap.Uint32("type", reloc.Type))
		}
		r.d.Fatal(diag.UnknownRelocation,
			zap.Uint32("type", reloc.Type), zap.String("symbol", name))
	}
	entry := r.table[reloc.Type]
	switch result := entry.fn(reloc, r); result {
	case linker.ResultOK:
	case linker.ResultOverflow:
		r.d.Error(diag.ResultOverflow,
			zap.String("relocation", entry.name), zap.String("symbol", name))
		r.errs = multierror.Append(r.errs,
			errors.Errorf("%s: overflow on %s", entry.name, name))
	case linker.ResultBadReloc:
		r.d.Error(diag.ResultBadReloc,
			zap.String("relocation", entry.name), zap.String("symbol", name))
		r.errs = multierror.Append(r.errs,
			errors.Errorf("%s: bad reloc on %s", entry.name, name))
	case linker.ResultUnsupport:
		r.d.Fatal(diag.ResultUnsupport,
			zap.String("relocation", entry.name), zap.String("symbol", name))
	}
}

// findLo16 looks forward for the R_MIPS_LO16 paired to the relocation
// at the current position: the next LO16 against the same symbol.
func (r *Relocator) findLo16(hiReloc *linker.Relocation) *linker.Relocation {
	for _, reloc := range r.current[r.pos+1:] {
		if reloc.Type == uint32(elf.R_MIPS_LO16) && reloc.Sym == hiReloc.Sym {
			return reloc
		}
	}
	return nil
}

// calcAHL combines the paired immediates:
// AHL = ((AHI & 0xFFFF) << 16) + (int16)(ALO & 0xFFFF) + addend(LO).
func (r *Relocator) calcAHL(hiReloc, loReloc *linker.Relocation) int32 {
	ahi := int32(r.target(hiReloc))
	alo := int32(r.target(loReloc))
	return ((ahi & 0xffff) << 16) + int32(int16(alo&0xffff)) + int32(loReloc.Addend)
}

func (r *Relocator) target(reloc *linker.Relocation) uint32 {
	return reloc.Target(r.order)
}

func (r *Relocator) setLow16(reloc *linker.Relocation, val int32) {
	target := r.target(reloc)
	reloc.SetTarget(r.order, target&0xffff0000|uint32(val)&0xffff)
}

func (r *Relocator) gp() int32 {
	return int32(r.backend.GP())
}

// gotEntry hands out the symbol's GOT slot, seeding it with the
// symbol value on first use unless a local section entry owns it.
func gotEntry(reloc *linker.Relocation, p *Relocator) *linker.Fragment {
	rsym := reloc.Sym
	got := p.backend.GOT
	entry, exist := got.GetEntry(rsym)
	if exist {
		return entry
	}
	if !(p.backend.IsLocalGOT(rsym) && rsym.Type == linker.TypeSection) {
		if rsym.Reserved&ReserveGot != 0 {
			entry.SetContent(p.order, uint32(reloc.SymValue()))
		} else {
			p.d.Fatal(diag.ReserveEntryMismatch, zap.String("table", "GOT"),
				zap.String("symbol", rsym.Name))
		}
	}
	return entry
}

// gotOffset is G: the entry's displacement from the GP anchor.
func gotOffset(reloc *linker.Relocation, p *Relocator) int32 {
	entry := gotEntry(reloc, p)
	return int32(entry.Offset) - 0x7ff0
}

// dynRel books the R_MIPS_REL32 this site needs: a local entry keeps
// A+S in place with a null symbol, a global one keeps A and names the
// symbol for the runtime.
func dynRel(reloc *linker.Relocation, p *Relocator) {
	rsym := reloc.Sym
	entry, _ := p.backend.RelDyn.GetEntry(rsym, false)
	entry.Type = uint32(elf.R_MIPS_REL32)
	entry.TargetRef = reloc.TargetRef

	A := uint64(p.target(reloc)) + uint64(reloc.Addend)
	S := reloc.SymValue()
	if p.backend.IsLocalGOT(rsym) {
		entry.Sym = nil
		reloc.SetTarget(p.order, uint32(A+S))
	} else {
		entry.Sym = rsym
		reloc.SetTarget(p.order, uint32(A))
	}
}

//
// applicators
//

// R_MIPS_NONE and relocations with nothing to patch
func none(reloc *linker.Relocation, p *Relocator) linker.Result {
	return linker.ResultOK
}

func unsupport(reloc *linker.Relocation, p *Relocator) linker.Result {
	return linker.ResultUnsupport
}

// R_MIPS_32: S + A
func abs32(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	if rsym != nil && rsym.Reserved&ReserveRel != 0 {
		dynRel(reloc, p)
		return linker.ResultOK
	}
	A := uint64(p.target(reloc)) + uint64(reloc.Addend)
	reloc.SetTarget(p.order, uint32(reloc.SymValue()+A))
	return linker.ResultOK
}

// R_MIPS_26: ((A << 2) | (P & 0xF0000000) + S) >> 2
func rel26(reloc *linker.Relocation, p *Relocator) linker.Result {
	target := p.target(reloc)
	A := uint64((target&0x03ffffff)<<2) + uint64(reloc.Addend)
	P := reloc.Place()
	X := (A | (P & 0xf0000000)) + reloc.SymValue()
	reloc.SetTarget(p.order, target&0xfc000000|uint32(X>>2)&0x03ffffff)
	return linker.ResultOK
}

// R_MIPS_HI16:
//
//	local/external: ((AHL + S) - (short)(AHL + S)) >> 16
//	_gp_disp      : ((AHL + GP - P) - (short)(AHL + GP - P)) >> 16
func hi16(reloc *linker.Relocation, p *Relocator) linker.Result {
	loReloc := p.findLo16(reloc)
	if loReloc == nil {
		return linker.ResultBadReloc
	}
	AHL := p.calcAHL(reloc, loReloc)
	p.ahl = AHL

	var res int32
	if p.backend.IsGpDisp(reloc.Sym) {
		P := int32(reloc.Place())
		GP := p.gp()
		res = ((AHL + GP - P) - int32(int16(AHL+GP-P))) >> 16
	} else {
		S := int32(reloc.SymValue())
		res = ((AHL + S) - int32(int16(AHL+S))) >> 16
	}
	p.setLow16(reloc, res)
	return linker.ResultOK
}

// R_MIPS_LO16:
//
//	local/external: AHL + S (low half; ALO re-derived from the word)
//	_gp_disp      : AHL + GP - P + 4
func lo16(reloc *linker.Relocation, p *Relocator) linker.Result {
	var res int32
	if p.backend.IsGpDisp(reloc.Sym) {
		P := int32(reloc.Place())
		GP := p.gp()
		res = p.ahl + GP - P + 4
	} else {
		ALO := int32(p.target(reloc)&0xffff) + int32(reloc.Addend)
		res = ALO + int32(reloc.SymValue())
	}
	p.setLow16(reloc, res)
	return linker.ResultOK
}

// R_MIPS_GOT16:
//
//	local   : G, the entry holding the page of AHL + S
//	external: G
func got16(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	var G int32
	if rsym != nil && rsym.IsLocal() {
		loReloc := p.findLo16(reloc)
		if loReloc == nil {
			return linker.ResultBadReloc
		}
		AHL := p.calcAHL(reloc, loReloc)
		S := int32(reloc.SymValue())
		p.ahl = AHL

		page := uint32(AHL+S+0x8000) & 0xffff0000
		entry := gotEntry(reloc, p)
		entry.SetContent(p.order, page)
		G = int32(entry.Offset) - 0x7ff0
	} else {
		G = gotOffset(reloc, p)
	}
	p.setLow16(reloc, G)
	return linker.ResultOK
}

// R_MIPS_CALL16: G
func call16(reloc *linker.Relocation, p *Relocator) linker.Result {
	p.setLow16(reloc, gotOffset(reloc, p))
	return linker.ResultOK
}

// R_MIPS_GOT_DISP and friends: G
func gotOff(reloc *linker.Relocation, p *Relocator) linker.Result {
	p.setLow16(reloc, gotOffset(reloc, p))
	return linker.ResultOK
}

// R_MIPS_GPREL32: A + S + GP0 - GP, with GP0 taken as zero
func gprel32(reloc *linker.Relocation, p *Relocator) linker.Result {
	A := int32(p.target(reloc)) + int32(reloc.Addend)
	S := int32(reloc.SymValue())
	reloc.SetTarget(p.order, uint32(A+S-p.gp()))
	return linker.ResultOK
}

// COPY/GLOB_DAT/JUMP_SLOT belong only in the dynamic output.
func dynOnly(reloc *linker.Relocation, p *Relocator) linker.Result {
	p.d.Fatal(diag.DynamicRelocationInInput, zap.Uint32("type", reloc.Type))
	return linker.ResultBadReloc
}

// The TLS family is not implemented.
func tls(reloc *linker.Relocation, p *Relocator) linker.Result {
	return linker.ResultUnsupport
}
