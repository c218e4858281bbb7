package arm

import (
	"debug/elf"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/linker"
	"github.com/syfchao/mclinker/pkg/utils"
)

// maxRelocType bounds the ARM table; 131-255 are not in the ABI.
const maxRelocType = 130

type applyFunc func(reloc *linker.Relocation, p *Relocator) linker.Result

type applyEntry struct {
	fn   applyFunc
	typ  uint32
	name string
}

// Relocator applies ARM relocations. Every non-OK result is fatal on
// this architecture.
type Relocator struct {
	backend *Backend
	l       *linker.Linker
	d       *diag.Engine
	order   binary.ByteOrder
	table   [maxRelocType + 1]applyEntry
}

func NewRelocator(backend *Backend) *Relocator {
	r := &Relocator{
		backend: backend,
		d:       backend.Diag,
		order:   binary.LittleEndian,
	}
	for i := range r.table {
		r.table[i] = applyEntry{unsupport, uint32(i), "R_ARM_unknown"}
	}
	for _, entry := range []applyEntry{
		{none, uint32(elf.R_ARM_NONE), "R_ARM_NONE"},
		{abs32, uint32(elf.R_ARM_ABS32), "R_ARM_ABS32"},
		{abs32, uint32(elf.R_ARM_ABS32_NOI), "R_ARM_ABS32_NOI"},
		{rel32, uint32(elf.R_ARM_REL32), "R_ARM_REL32"},
		{thmCall, uint32(elf.R_ARM_THM_PC22), "R_ARM_THM_CALL"},
		{thmCall, uint32(elf.R_ARM_THM_JUMP24), "R_ARM_THM_JUMP24"},
		{gotoff32, uint32(elf.R_ARM_GOTOFF), "R_ARM_GOTOFF32"},
		{gotBrel, uint32(elf.R_ARM_GOT32), "R_ARM_GOT_BREL"},
		{gotBrel, uint32(elf.R_ARM_GOT_PREL), "R_ARM_GOT_PREL"},
		{call, uint32(elf.R_ARM_PLT32), "R_ARM_PLT32"},
		{call, uint32(elf.R_ARM_CALL), "R_ARM_CALL"},
		{call, uint32(elf.R_ARM_JUMP24), "R_ARM_JUMP24"},
		{prel31, uint32(elf.R_ARM_PREL31), "R_ARM_PREL31"},
		{movwAbsNC, uint32(elf.R_ARM_MOVW_ABS_NC), "R_ARM_MOVW_ABS_NC"},
		{movtAbs, uint32(elf.R_ARM_MOVT_ABS), "R_ARM_MOVT_ABS"},
		{movwPrelNC, uint32(elf.R_ARM_MOVW_PREL_NC), "R_ARM_MOVW_PREL_NC"},
		{movtPrel, uint32(elf.R_ARM_MOVT_PREL), "R_ARM_MOVT_PREL"},
		{thmMovwAbsNC, uint32(elf.R_ARM_THM_MOVW_ABS_NC), "R_ARM_THM_MOVW_ABS_NC"},
		{thmMovtAbs, uint32(elf.R_ARM_THM_MOVT_ABS), "R_ARM_THM_MOVT_ABS"},
		{thmMovwPrelNC, uint32(elf.R_ARM_THM_MOVW_PREL_NC), "R_ARM_THM_MOVW_PREL_NC"},
		{thmMovtPrel, uint32(elf.R_ARM_THM_MOVT_PREL), "R_ARM_THM_MOVT_PREL"},
		{tls, uint32(elf.R_ARM_TLS_GD32), "R_ARM_TLS_GD32"},
		{tls, uint32(elf.R_ARM_TLS_LDM32), "R_ARM_TLS_LDM32"},
		{tls, uint32(elf.R_ARM_TLS_LDO32), "R_ARM_TLS_LDO32"},
		{tls, uint32(elf.R_ARM_TLS_IE32), "R_ARM_TLS_IE32"},
		{tls, uint32(elf.R_ARM_TLS_LE32), "R_ARM_TLS_LE32"},
	} {
		r.table[entry.typ] = entry
	}
	return r
}

func (r *Relocator) Name(typ uint32) string {
	if typ > maxRelocType {
		return "R_ARM_unknown"
	}
	return r.table[typ].name
}

func (r *Relocator) SetLinker(l *linker.Linker) { r.l = l }

// ApplyAll applies every site of one realized relocation section.
func (r *Relocator) ApplyAll(rs *linker.RelocSection) error {
	for _, reloc := range rs.Relocs {
		if reloc.Type > maxRelocType {
			name := ""
			if reloc.Sym != nil {
				name = reloc.Sym.Name
			}
			r.d.Fatal(diag.UnknownRelocation,
				zap.Uint32("type", reloc.Type), zap.String("symbol", name))
		}
		r.Apply(reloc)
	}
	return nil
}

// Apply runs one site through the dense table; a bad outcome
// terminates the link on ARM.
func (r *Relocator) Apply(reloc *linker.Relocation) {
	entry := r.table[reloc.Type]
	result := entry.fn(reloc, r)
	if result == linker.ResultOK {
		return
	}
	name := ""
	if reloc.Sym != nil {
		name = reloc.Sym.Name
	}
	fields := []zap.Field{
		zap.String("relocation", entry.name),
		zap.String("symbol", name),
	}
	switch result {
	case linker.ResultOverflow:
		r.d.Fatal(diag.ResultOverflow, fields...)
	case linker.ResultBadReloc:
		r.d.Fatal(diag.ResultBadReloc, fields...)
	default:
		r.d.Fatal(diag.ResultUnsupport, fields...)
	}
}

// thumbBit is 1 iff the symbol is a defined function whose value has
// bit 0 set: a Thumb-state entry point.
func thumbBit(reloc *linker.Relocation) uint64 {
	sym := reloc.Sym
	if sym != nil && sym.Desc != linker.DescUndefined &&
		sym.Type == linker.TypeFunction && reloc.SymValue()&0x1 != 0 {
		return 1
	}
	return 0
}

// gotEntryAndInit hands out the symbol's GOT slot, initializing it on
// first use per the reservation the scan recorded.
func gotEntryAndInit(reloc *linker.Relocation, p *Relocator) *linker.Fragment {
	rsym := reloc.Sym
	backend := p.backend
	entry, exist := backend.GOT.GetEntry(rsym)
	if exist {
		return entry
	}
	switch {
	case rsym.Reserved&ReserveGOT != 0:
		// no dynamic relocation; the slot holds the symbol address
		entry.SetContent(p.order, uint32(reloc.SymValue()))
	case rsym.Reserved&GOTRel != 0:
		relEntry, relExist := backend.RelDyn.GetEntry(rsym, true)
		if relExist {
			utils.Fatal("GOT entry not exist, but DynRel entry exist")
		}
		if rsym.IsLocal() || p.l.UseRelativeReloc(rsym) {
			entry.SetContent(p.order, uint32(reloc.SymValue()))
			relEntry.Type = uint32(elf.R_ARM_RELATIVE)
			relEntry.Sym = nil
		} else {
			entry.SetContent(p.order, 0)
			relEntry.Type = uint32(elf.R_ARM_GLOB_DAT)
			relEntry.Sym = rsym
		}
		relEntry.TargetRef = linker.NewFragmentRef(entry, 0)
	default:
		p.d.Fatal(diag.ReserveEntryMismatch, zap.String("table", "GOT"),
			zap.String("symbol", rsym.Name))
	}
	return entry
}

func gotOrigin(p *Relocator) uint64 {
	return p.backend.GOT.Section.Addr
}

func gotAddress(reloc *linker.Relocation, p *Relocator) uint64 {
	entry := gotEntryAndInit(reloc, p)
	return gotOrigin(p) + entry.Offset
}

// pltEntryAndInit hands out the symbol's PLT stub, pairing it with a
// GOTPLT slot and a R_ARM_JUMP_SLOT on first use.
func pltEntryAndInit(reloc *linker.Relocation, p *Relocator) *linker.Fragment {
	rsym := reloc.Sym
	backend := p.backend
	entry, exist := backend.PLT.GetEntry(rsym)
	if exist {
		return entry
	}
	if rsym.Reserved&ReservePLT == 0 {
		p.d.Fatal(diag.ReserveEntryMismatch, zap.String("table", "PLT"),
			zap.String("symbol", rsym.Name))
	}
	gotplt, _ := backend.PLT.GetGOTPLTEntry(rsym)
	relEntry, relExist := backend.RelPLT.GetEntry(rsym, true)
	if relExist {
		utils.Fatal("PLT entry not exist, but DynRel entry exist")
	}
	relEntry.Type = uint32(elf.R_ARM_JUMP_SLOT)
	relEntry.TargetRef = linker.NewFragmentRef(gotplt, 0)
	relEntry.Sym = rsym
	return entry
}

func pltAddress(reloc *linker.Relocation, p *Relocator) uint64 {
	entry := pltEntryAndInit(reloc, p)
	return p.backend.PLT.Section.Addr + entry.Offset
}

// dynRel books a .rel.dyn entry against this site.
func dynRel(reloc *linker.Relocation, typ uint32, p *Relocator) {
	entry, _ := p.backend.RelDyn.GetEntry(reloc.Sym, false)
	entry.Type = typ
	entry.TargetRef = reloc.TargetRef
	if typ == uint32(elf.R_ARM_RELATIVE) {
		entry.Sym = nil
	} else {
		entry.Sym = reloc.Sym
	}
}

// imm16: [19-16][11-0]
func extractMovwMovtAddend(target uint64) uint64 {
	return utils.SignExtend(((target>>4)&0xf000)|(target&0xfff), 16)
}

func insertValMovwMovtInst(target, imm uint64) uint64 {
	target &= 0xfff0f000
	target |= imm & 0x0fff
	target |= (imm & 0xf000) << 4
	return target
}

// imm16: [19-16][26][14-12][7-0]
func extractThumbMovwMovtAddend(target uint64) uint64 {
	return utils.SignExtend(((target>>4)&0xf000)|
		((target>>15)&0x0800)|
		((target>>4)&0x0700)|
		(target&0x00ff), 16)
}

func insertValThumbMovwMovtInst(target, imm uint64) uint64 {
	target &= 0xfbf08f00
	target |= (imm & 0xf000) << 4
	target |= (imm & 0x0800) << 15
	target |= (imm & 0x0700) << 4
	target |= imm & 0x00ff
	return target
}

// thumb32BranchOffset rebuilds the signed 25-bit offset out of the
// BL/BLX halfword pair: I1 = !(J1^S), I2 = !(J2^S).
func thumb32BranchOffset(upper16, lower16 uint64) uint64 {
	s := (upper16 & (1 << 10)) >> 10
	u := upper16 & 0x3ff
	l := lower16 & 0x7ff
	j1 := (lower16 & (1 << 13)) >> 13
	j2 := (lower16 & (1 << 11)) >> 11
	var i1, i2 uint64
	if j1^s == 0 {
		i1 = 1
	}
	if j2^s == 0 {
		i2 = 1
	}
	// [31-25][24][23][22][21-12][11-1][0]
	//      0   s  i1  i2      u     l  0
	return utils.SignExtend((s<<24)|(i1<<23)|(i2<<22)|(u<<12)|(l<<1), 25)
}

func thumb32BranchUpper(upper16, offset uint64) uint64 {
	sign := (offset & 0x80000000) >> 31
	return (upper16 &^ 0x7ff) | ((offset >> 12) & 0x3ff) | (sign << 10)
}

func thumb32BranchLower(lower16, offset uint64) uint64 {
	sign := (offset & 0x80000000) >> 31
	notSign := uint64(1) - sign
	return (lower16 &^ 0x2fff) |
		((((offset >> 23) & 1) ^ notSign) << 13) |
		((((offset >> 22) & 1) ^ notSign) << 11) |
		((offset >> 1) & 0x7ff)
}

//
// applicators
//

// R_ARM_NONE
func none(reloc *linker.Relocation, p *Relocator) linker.Result {
	return linker.ResultOK
}

func unsupport(reloc *linker.Relocation, p *Relocator) linker.Result {
	return linker.ResultUnsupport
}

// R_ARM_ABS32: (S + A) | T
func abs32(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	T := thumbBit(reloc)
	A := uint64(reloc.Target(p.order)) + uint64(reloc.Addend)
	S := reloc.SymValue()

	if rsym != nil && rsym.IsLocal() && rsym.Reserved&ReserveRel != 0 {
		dynRel(reloc, uint32(elf.R_ARM_RELATIVE), p)
		reloc.SetTarget(p.order, uint32((S+A)|T))
		return linker.ResultOK
	}
	if rsym != nil && rsym.IsGlobal() {
		if rsym.Reserved&ReservePLT != 0 {
			S = pltAddress(reloc, p)
			T = 0 // PLT is not thumb
			reloc.SetTarget(p.order, uint32((S+A)|T))
		}
		// a real dynamic relocation keeps the addend in place, so no
		// static patch on top of it
		if rsym.Reserved&ReserveRel != 0 {
			if p.l.UseRelativeReloc(rsym) {
				dynRel(reloc, uint32(elf.R_ARM_RELATIVE), p)
			} else {
				dynRel(reloc, reloc.Type, p)
				return linker.ResultOK
			}
		}
	}

	reloc.SetTarget(p.order, uint32((S+A)|T))
	return linker.ResultOK
}

// R_ARM_REL32: ((S + A) | T) - P
func rel32(reloc *linker.Relocation, p *Relocator) linker.Result {
	T := thumbBit(reloc)
	A := uint64(reloc.Target(p.order)) + uint64(reloc.Addend)
	reloc.SetTarget(p.order, uint32(((reloc.SymValue()+A)|T)-reloc.Place()))
	return linker.ResultOK
}

// R_ARM_GOTOFF32: ((S + A) | T) - GOT_ORG
func gotoff32(reloc *linker.Relocation, p *Relocator) linker.Result {
	T := thumbBit(reloc)
	A := uint64(reloc.Target(p.order)) + uint64(reloc.Addend)
	reloc.SetTarget(p.order, uint32(((reloc.SymValue()+A)|T)-gotOrigin(p)))
	return linker.ResultOK
}

// R_ARM_GOT_BREL: GOT(S) + A - GOT_ORG
func gotBrel(reloc *linker.Relocation, p *Relocator) linker.Result {
	if reloc.Sym == nil || reloc.Sym.Reserved&(ReserveGOT|GOTRel) == 0 {
		return linker.ResultBadReloc
	}
	gotS := gotAddress(reloc, p)
	A := uint64(reloc.Target(p.order)) + uint64(reloc.Addend)
	reloc.SetTarget(p.order, uint32(gotS+A-gotOrigin(p)))
	return linker.ResultOK
}

// R_ARM_CALL, R_ARM_JUMP24, R_ARM_PLT32: ((S + A) | T) - P
func call(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym

	// an undefined weak target without a PLT entry becomes a no-op:
	// mov r0, r0, keeping the condition bits
	if rsym != nil && rsym.IsWeak() && rsym.IsUndef() &&
		rsym.Reserved&ReservePLT == 0 {
		target := reloc.Target(p.order)
		reloc.SetTarget(p.order, (target&0xf0000000)|0x01a00000)
		return linker.ResultOK
	}

	target := uint64(reloc.Target(p.order))
	T := thumbBit(reloc)
	A := utils.SignExtend((target&0x00ffffff)<<2, 26) + uint64(reloc.Addend)
	P := reloc.Place()
	S := reloc.SymValue()
	if rsym != nil && rsym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
		T = 0 // PLT is not thumb
	}

	X := ((S + A) | T) - P
	if X&0x3 != 0 {
		p.d.Fatal(diag.NeedStub, zap.String("symbol", rsym.Name))
	}
	if utils.CheckSignedOverflow(X, 26) {
		return linker.ResultOverflow
	}
	reloc.SetTarget(p.order, uint32((target&0xff000000)|((X&0x03fffffe)>>2)))
	return linker.ResultOK
}

// R_ARM_THM_CALL: ((S + A) | T) - P, BL/BLX halfword pair
func thmCall(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym

	// undefined weak without PLT: rewrite to NOP.W
	if rsym != nil && rsym.IsWeak() && rsym.IsUndef() &&
		rsym.Reserved&ReservePLT == 0 {
		reloc.SetTargetHalf(p.order, 0, 0xe000)
		reloc.SetTargetHalf(p.order, 2, 0xbf00)
		return linker.ResultOK
	}

	upper16 := uint64(reloc.TargetHalf(p.order, 0))
	lower16 := uint64(reloc.TargetHalf(p.order, 2))

	T := thumbBit(reloc)
	A := thumb32BranchOffset(upper16, lower16) + uint64(reloc.Addend)
	P := reloc.Place()
	S := reloc.SymValue()
	if rsym != nil && rsym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
		T = 0 // PLT is not thumb
	}

	X := ((S + A) | T) - P
	// a BLX lands in ARM state; bit 1 of the target comes from bit 1
	// of the base, so round X up to a word boundary
	if T == 0 {
		X = (X + 2) &^ 0x3
	}
	if utils.CheckSignedOverflow(X, 25) {
		return linker.ResultOverflow
	}

	reloc.SetTargetHalf(p.order, 0, uint16(thumb32BranchUpper(upper16, X)))
	reloc.SetTargetHalf(p.order, 2, uint16(thumb32BranchLower(lower16, X)))
	return linker.ResultOK
}

// R_ARM_MOVW_ABS_NC: (S + A) | T
func movwAbsNC(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	target := uint64(reloc.Target(p.order))
	S := reloc.SymValue()
	T := thumbBit(reloc)
	A := extractMovwMovtAddend(target) + uint64(reloc.Addend)

	if rsym != nil && rsym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
		T = 0 // PLT is not thumb
	}
	X := (S + A) | T
	if utils.CheckSignedOverflow(X, 16) {
		return linker.ResultOverflow
	}
	reloc.SetTarget(p.order, uint32(insertValMovwMovtInst(target, X)))
	return linker.ResultOK
}

// R_ARM_MOVW_PREL_NC: ((S + A) | T) - P
func movwPrelNC(reloc *linker.Relocation, p *Relocator) linker.Result {
	target := uint64(reloc.Target(p.order))
	T := thumbBit(reloc)
	A := extractMovwMovtAddend(target) + uint64(reloc.Addend)
	X := ((reloc.SymValue() + A) | T) - reloc.Place()
	if utils.CheckSignedOverflow(X, 16) {
		return linker.ResultOverflow
	}
	reloc.SetTarget(p.order, uint32(insertValMovwMovtInst(target, X)))
	return linker.ResultOK
}

// R_ARM_MOVT_ABS: S + A
func movtAbs(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	target := uint64(reloc.Target(p.order))
	S := reloc.SymValue()
	A := extractMovwMovtAddend(target) + uint64(reloc.Addend)

	if rsym != nil && rsym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
	}
	X := (S + A) >> 16
	reloc.SetTarget(p.order, uint32(insertValMovwMovtInst(target, X)))
	return linker.ResultOK
}

// R_ARM_MOVT_PREL: S + A - P
func movtPrel(reloc *linker.Relocation, p *Relocator) linker.Result {
	target := uint64(reloc.Target(p.order))
	A := extractMovwMovtAddend(target) + uint64(reloc.Addend)
	X := (reloc.SymValue() + A - reloc.Place()) >> 16
	reloc.SetTarget(p.order, uint32(insertValMovwMovtInst(target, X)))
	return linker.ResultOK
}

// thumbMovTarget reads the Thumb-2 instruction word: the halfword at
// the lower address holds bits [31:16].
func thumbMovTarget(reloc *linker.Relocation, p *Relocator) uint64 {
	return uint64(reloc.TargetHalf(p.order, 0))<<16 | uint64(reloc.TargetHalf(p.order, 2))
}

func setThumbMovTarget(reloc *linker.Relocation, p *Relocator, target uint64) {
	reloc.SetTargetHalf(p.order, 0, uint16(target>>16))
	reloc.SetTargetHalf(p.order, 2, uint16(target))
}

// R_ARM_THM_MOVW_ABS_NC: (S + A) | T
func thmMovwAbsNC(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	target := thumbMovTarget(reloc, p)
	S := reloc.SymValue()
	T := thumbBit(reloc)
	A := extractThumbMovwMovtAddend(target) + uint64(reloc.Addend)

	if rsym != nil && rsym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
		T = 0 // PLT is not thumb
	}
	X := (S + A) | T
	if utils.CheckSignedOverflow(X, 16) {
		return linker.ResultOverflow
	}
	setThumbMovTarget(reloc, p, insertValThumbMovwMovtInst(target, X))
	return linker.ResultOK
}

// R_ARM_THM_MOVW_PREL_NC: ((S + A) | T) - P
func thmMovwPrelNC(reloc *linker.Relocation, p *Relocator) linker.Result {
	target := thumbMovTarget(reloc, p)
	T := thumbBit(reloc)
	A := extractThumbMovwMovtAddend(target) + uint64(reloc.Addend)
	X := ((reloc.SymValue() + A) | T) - reloc.Place()
	if utils.CheckSignedOverflow(X, 16) {
		return linker.ResultOverflow
	}
	setThumbMovTarget(reloc, p, insertValThumbMovwMovtInst(target, X))
	return linker.ResultOK
}

// R_ARM_THM_MOVT_ABS: S + A
func thmMovtAbs(reloc *linker.Relocation, p *Relocator) linker.Result {
	rsym := reloc.Sym
	target := thumbMovTarget(reloc, p)
	S := reloc.SymValue()
	A := extractThumbMovwMovtAddend(target) + uint64(reloc.Addend)

	if rsym != nil && rsym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
	}
	X := (S + A) >> 16
	if utils.CheckSignedOverflow(X, 16) {
		return linker.ResultOverflow
	}
	setThumbMovTarget(reloc, p, insertValThumbMovwMovtInst(target, X))
	return linker.ResultOK
}

// R_ARM_THM_MOVT_PREL: S + A - P
func thmMovtPrel(reloc *linker.Relocation, p *Relocator) linker.Result {
	target := thumbMovTarget(reloc, p)
	A := extractThumbMovwMovtAddend(target) + uint64(reloc.Addend)
	X := (reloc.SymValue() + A - reloc.Place()) >> 16
	if utils.CheckSignedOverflow(X, 16) {
		return linker.ResultOverflow
	}
	setThumbMovTarget(reloc, p, insertValThumbMovwMovtInst(target, X))
	return linker.ResultOK
}

// R_ARM_PREL31: (S + A) | T, low 31 bits, bit 31 preserved
func prel31(reloc *linker.Relocation, p *Relocator) linker.Result {
	target := uint64(reloc.Target(p.order))
	T := thumbBit(reloc)
	A := utils.SignExtend(target, 31) + uint64(reloc.Addend)
	S := reloc.SymValue()
	if reloc.Sym != nil && reloc.Sym.Reserved&ReservePLT != 0 {
		S = pltAddress(reloc, p)
		T = 0 // PLT is not thumb
	}
	X := (S + A) | T
	reloc.SetTarget(p.order, uint32(utils.BitSelect(target, X, 0x7fffffff)))
	if utils.CheckSignedOverflow(X, 31) {
		return linker.ResultOverflow
	}
	return linker.ResultOK
}

// The TLS family is not implemented.
func tls(reloc *linker.Relocation, p *Relocator) linker.Result {
	return linker.ResultUnsupport
}
