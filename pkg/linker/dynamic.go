package linker

import (
	"debug/elf"
	"encoding/binary"

	"github.com/syfchao/mclinker/pkg/utils"
)

// ELFDynamic reserves and emits the .dynamic entries. Entries are
// reserved while name pools are sized and filled in once layout fixed
// every address.
type ELFDynamic struct {
	entries []Dyn
	needIdx []int
	flags   uint32
}

func NewELFDynamic() *ELFDynamic {
	return &ELFDynamic{}
}

func (d *ELFDynamic) reserveOne(tag elf.DynTag) {
	d.entries = append(d.entries, Dyn{Tag: uint32(tag)})
}

// ReserveNeedEntry books one DT_NEEDED slot.
func (d *ELFDynamic) ReserveNeedEntry() {
	d.needIdx = append(d.needIdx, len(d.entries))
	d.reserveOne(elf.DT_NEEDED)
}

// ReserveEntries books the fixed tail entries. Sizes and addresses are
// not known yet; only the shape is.
func (d *ELFDynamic) ReserveEntries(isDynObj, hasRelDyn, hasRelPLT, hasInit, hasFini bool) {
	if isDynObj {
		d.reserveOne(elf.DT_SONAME)
	}
	d.reserveOne(elf.DT_HASH)
	d.reserveOne(elf.DT_STRTAB)
	d.reserveOne(elf.DT_SYMTAB)
	d.reserveOne(elf.DT_STRSZ)
	d.reserveOne(elf.DT_SYMENT)
	if hasInit {
		d.reserveOne(elf.DT_INIT)
	}
	if hasFini {
		d.reserveOne(elf.DT_FINI)
	}
	if hasRelDyn {
		d.reserveOne(elf.DT_REL)
		d.reserveOne(elf.DT_RELSZ)
		d.reserveOne(elf.DT_RELENT)
	}
	if hasRelPLT {
		d.reserveOne(elf.DT_PLTGOT)
		d.reserveOne(elf.DT_PLTRELSZ)
		d.reserveOne(elf.DT_PLTREL)
		d.reserveOne(elf.DT_JMPREL)
	}
	d.reserveOne(elf.DT_FLAGS)
	d.reserveOne(elf.DT_NULL)
}

func (d *ELFDynamic) SetFlags(flags uint32) {
	d.flags |= flags
}

// ApplyNeeded fills the i-th reserved DT_NEEDED with a .dynstr offset.
func (d *ELFDynamic) ApplyNeeded(i int, strOff uint32) {
	utils.Assert(i < len(d.needIdx))
	d.entries[d.needIdx[i]].Val = strOff
}

func (d *ELFDynamic) apply(tag elf.DynTag, val uint32) {
	for i := range d.entries {
		if d.entries[i].Tag == uint32(tag) {
			d.entries[i].Val = val
			return
		}
	}
}

// DynamicLayout is the post-layout address/size view ApplyEntries
// needs.
type DynamicLayout struct {
	HashAddr   uint32
	DynStrAddr uint32
	DynStrSize uint32
	DynSymAddr uint32
	RelDynAddr uint32
	RelDynSize uint32
	RelPLTAddr uint32
	RelPLTSize uint32
	GOTAddr    uint32
	InitAddr   uint32
	FiniAddr   uint32
	SONameOff  uint32
}

func (d *ELFDynamic) ApplyEntries(l DynamicLayout) {
	d.apply(elf.DT_SONAME, l.SONameOff)
	d.apply(elf.DT_HASH, l.HashAddr)
	d.apply(elf.DT_STRTAB, l.DynStrAddr)
	d.apply(elf.DT_SYMTAB, l.DynSymAddr)
	d.apply(elf.DT_STRSZ, l.DynStrSize)
	d.apply(elf.DT_SYMENT, uint32(SymSize))
	d.apply(elf.DT_INIT, l.InitAddr)
	d.apply(elf.DT_FINI, l.FiniAddr)
	d.apply(elf.DT_REL, l.RelDynAddr)
	d.apply(elf.DT_RELSZ, l.RelDynSize)
	d.apply(elf.DT_RELENT, uint32(RelSize))
	d.apply(elf.DT_PLTGOT, l.GOTAddr)
	d.apply(elf.DT_PLTRELSZ, l.RelPLTSize)
	d.apply(elf.DT_PLTREL, uint32(elf.DT_REL))
	d.apply(elf.DT_JMPREL, l.RelPLTAddr)
	d.apply(elf.DT_FLAGS, d.flags)
}

func (d *ELFDynamic) NumOfEntries() int {
	return len(d.entries)
}

func (d *ELFDynamic) NumOfBytes() uint64 {
	return uint64(len(d.entries)) * uint64(DynSize)
}

// EmitTo encodes the entries into buf.
func (d *ELFDynamic) EmitTo(order binary.ByteOrder, buf []byte) {
	utils.Assert(uint64(len(buf)) >= d.NumOfBytes())
	for i, entry := range d.entries {
		utils.Write[Dyn](order, buf[i*DynSize:], entry)
	}
}
