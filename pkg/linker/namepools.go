package linker

import (
	"debug/elf"
	"encoding/binary"

	"github.com/syfchao/mclinker/pkg/utils"
)

// InitCommonSections creates the dynamic-linking sections every
// non-object output carries: .hash, .dynsym, .dynstr, .dynamic.
func (b *GNUBackend) InitCommonSections(m *Module, cfg *Config) {
	if cfg.IsObject() {
		return
	}
	b.HashSect = m.GetOutputSection(".hash", SectionNamePool,
		uint32(elf.SHT_HASH), uint32(elf.SHF_ALLOC))
	b.HashSect.Align = 4
	b.HashSect.EntSize = 4

	b.DynSymSect = m.GetOutputSection(".dynsym", SectionNamePool,
		uint32(elf.SHT_DYNSYM), uint32(elf.SHF_ALLOC))
	b.DynSymSect.Align = 4
	b.DynSymSect.EntSize = uint32(SymSize)

	b.DynStrSect = m.GetOutputSection(".dynstr", SectionNamePool,
		uint32(elf.SHT_STRTAB), uint32(elf.SHF_ALLOC))

	b.DynamicSect = m.GetOutputSection(".dynamic", SectionRegular,
		uint32(elf.SHT_DYNAMIC), uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	b.DynamicSect.Align = 4
	b.DynamicSect.EntSize = uint32(DynSize)

	b.HashSect.Link = b.DynSymSect
	b.DynSymSect.Link = b.DynStrSect
	b.DynamicSect.Link = b.DynStrSect
}

// neededLibs applies the --add-needed / --as-needed rules: ignore a
// library under --no-add-needed; always count one under
// --no-as-needed; under --as-needed count it only when it satisfied a
// reference.
func neededLibs(m *Module) []*Input {
	var libs []*Input
	for _, lib := range m.Libs {
		if !lib.Attr.AddNeeded {
			continue
		}
		if !lib.Attr.AsNeeded || lib.Needed {
			libs = append(libs, lib)
		}
	}
	return libs
}

// SizeNamePools sizes .dynsym, .dynstr, .hash and .dynamic before
// layout fixes addresses. Regular .symtab/.strtab are non-alloc and
// sized by the writer.
func (b *GNUBackend) SizeNamePools(l *Linker) {
	cfg := l.Config()
	m := l.Module()
	if cfg.IsObject() {
		return
	}

	b.dynIndex = make(map[*ResolveInfo]uint32)
	b.DynSymbols = nil
	dynstr := uint64(1)
	m.Symbols.ForEach(func(sym *LDSymbol) {
		if !l.IsDynamicSymbol(sym.Info) {
			return
		}
		b.dynIndex[sym.Info] = uint32(len(b.DynSymbols) + 1)
		b.DynSymbols = append(b.DynSymbols, sym)
		dynstr += uint64(len(sym.Name())) + 1
	})

	if cfg.IsDynObj() {
		dynstr += uint64(len(m.Name)) + 1
	}
	for _, lib := range neededLibs(m) {
		dynstr += uint64(len(lib.Name)) + 1
		b.Dyn.ReserveNeedEntry()
	}
	b.Dyn.ReserveEntries(cfg.IsDynObj(),
		b.RelDyn != nil && !b.RelDyn.Empty(),
		b.RelPLT != nil && !b.RelPLT.Empty(),
		m.FindOutputSection(".init") != nil,
		m.FindOutputSection(".fini") != nil)

	dynsymCount := uint64(len(b.DynSymbols) + 1)
	b.DynSymSect.Size = dynsymCount * uint64(SymSize)
	b.DynStrSect.Size = dynstr
	nbucket := HashBucketCount(uint32(dynsymCount), false)
	b.HashSect.Size = uint64(2+nbucket+uint32(dynsymCount)) * 4
	b.DynamicSect.Size = b.Dyn.NumOfBytes()
}

// DynSymIndex is the .dynsym index dynamic relocations reference;
// zero for a null or non-dynamic symbol.
func (b *GNUBackend) DynSymIndex(info *ResolveInfo) uint32 {
	if info == nil {
		return 0
	}
	return b.dynIndex[info]
}

func emitSym(order binary.ByteOrder, buf []byte, sym *LDSymbol, nameOff uint32) {
	shndx := uint16(0)
	switch {
	case sym.Info.IsAbsolute() || sym.FragRef == nil && sym.Info.IsDefine():
		shndx = uint16(elf.SHN_ABS)
	case sym.FragRef != nil:
		shndx = uint16(sym.FragRef.Frag.Parent.Section.Index)
	}
	if sym.Info.IsUndef() {
		shndx = uint16(elf.SHN_UNDEF)
	}
	utils.Write[Sym](order, buf, Sym{
		Name:  nameOff,
		Value: uint32(sym.Addr()),
		Size:  uint32(sym.Size),
		Info:  sym.Info.ElfInfo(),
		Other: uint8(sym.Info.Vis),
		Shndx: shndx,
	})
}

// EmitDynNamePools writes .dynsym, .dynstr, .hash and .dynamic into
// the image at their laid-out offsets.
func (b *GNUBackend) EmitDynNamePools(l *Linker, image []byte, order binary.ByteOrder) {
	cfg := l.Config()
	m := l.Module()
	if cfg.IsObject() {
		return
	}

	symBuf := image[b.DynSymSect.Offset:]
	strBuf := image[b.DynStrSect.Offset:]
	strBuf[0] = 0
	strOff := uint32(1)

	for i, sym := range b.DynSymbols {
		copy(strBuf[strOff:], sym.Name())
		emitSym(order, symBuf[(i+1)*SymSize:], sym, strOff)
		strOff += uint32(len(sym.Name())) + 1
	}

	// DT_NEEDED strings, then the soname
	for i, lib := range neededLibs(m) {
		copy(strBuf[strOff:], lib.Name)
		b.Dyn.ApplyNeeded(i, strOff)
		strOff += uint32(len(lib.Name)) + 1
	}
	sonameOff := uint32(0)
	if cfg.IsDynObj() {
		copy(strBuf[strOff:], m.Name)
		sonameOff = strOff
		strOff += uint32(len(m.Name)) + 1
	}

	// SysV hash: [nbucket, nchain, bucket[], chain[]]
	dynsymCount := uint32(len(b.DynSymbols) + 1)
	nbucket := HashBucketCount(dynsymCount, false)
	hashBuf := image[b.HashSect.Offset:]
	order.PutUint32(hashBuf[0:], nbucket)
	order.PutUint32(hashBuf[4:], dynsymCount)
	bucket := hashBuf[8:]
	chain := hashBuf[8+4*nbucket:]
	for i := uint32(1); i < dynsymCount; i++ {
		name := b.DynSymbols[i-1].Name()
		pos := ELFHash(name) % nbucket
		order.PutUint32(chain[4*i:], order.Uint32(bucket[4*pos:]))
		order.PutUint32(bucket[4*pos:], i)
	}

	layout := DynamicLayout{
		HashAddr:   uint32(b.HashSect.Addr),
		DynStrAddr: uint32(b.DynStrSect.Addr),
		DynStrSize: uint32(b.DynStrSect.Size),
		DynSymAddr: uint32(b.DynSymSect.Addr),
		SONameOff:  sonameOff,
	}
	if b.RelDyn != nil && !b.RelDyn.Empty() {
		layout.RelDynAddr = uint32(b.RelDyn.Section.Addr)
		layout.RelDynSize = uint32(b.RelDyn.Section.Size)
	}
	if b.RelPLT != nil && !b.RelPLT.Empty() {
		layout.RelPLTAddr = uint32(b.RelPLT.Section.Addr)
		layout.RelPLTSize = uint32(b.RelPLT.Section.Size)
	}
	if b.GOT != nil {
		layout.GOTAddr = uint32(b.GOT.Section.Addr)
	}
	if sect := m.FindOutputSection(".init"); sect != nil {
		layout.InitAddr = uint32(sect.Addr)
	}
	if sect := m.FindOutputSection(".fini"); sect != nil {
		layout.FiniAddr = uint32(sect.Addr)
	}
	b.Dyn.ApplyEntries(layout)
	b.Dyn.EmitTo(order, image[b.DynamicSect.Offset:])
}

// EmitRelocSection encodes an output relocation buffer in REL format.
func (b *GNUBackend) EmitRelocSection(o *OutputRelocSection, image []byte, order binary.ByteOrder) {
	if o == nil || o.Section.Size == 0 {
		return
	}
	buf := image[o.Section.Offset:]
	for i, entry := range o.Entries() {
		utils.Write[Rel](order, buf[i*RelSize:], Rel{
			Offset: uint32(entry.TargetRef.Address()),
			Info:   b.DynSymIndex(entry.Sym)<<8 | entry.Type&0xff,
		})
	}
}
