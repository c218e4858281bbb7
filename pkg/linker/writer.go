package linker

import (
	"debug/elf"
	"encoding/binary"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/utils"
)

// Writer lays down the final ELF image: header, program headers,
// section data, name pools, dynamic tables and the section-header
// table.
type Writer struct {
	cfg     *Config
	m       *Module
	backend Backend
	l       *Linker
	d       *diag.Engine
	order   binary.ByteOrder

	symtabSect *LDSection
	strtabSect *LDSection
	shstrSect  *LDSection

	symbols  []*LDSymbol
	symIndex map[*LDSymbol]uint32
	strtab   *stringTable
	shstrtab *stringTable
}

func NewWriter(cfg *Config, m *Module, backend Backend, l *Linker, d *diag.Engine) *Writer {
	return &Writer{
		cfg:     cfg,
		m:       m,
		backend: backend,
		l:       l,
		d:       d,
		order:   binary.LittleEndian,
	}
}

type stringTable struct {
	bytes []byte
	offs  map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{bytes: []byte{0}, offs: make(map[string]uint32)}
}

func (t *stringTable) Add(s string) uint32 {
	if off, ok := t.offs[s]; ok {
		return off
	}
	off := uint32(len(t.bytes))
	t.offs[s] = off
	t.bytes = append(t.bytes, s...)
	t.bytes = append(t.bytes, 0)
	return off
}

// Build assembles the whole image.
func (w *Writer) Build() ([]byte, error) {
	w.buildSymtab()
	objRels := w.buildObjectRelocs()
	w.placeTrailingSections(objRels)

	shdrOff := w.sectionHeaderOffset()
	imageSize := shdrOff + uint64(len(w.m.OutputSections)+1)*uint64(ShdrSize)
	image := make([]byte, imageSize)

	w.emitEhdr(image, shdrOff)
	if !w.cfg.IsObject() {
		w.emitPhdrs(image)
	}
	w.emitSectionData(image)
	base := w.backend.Base()
	base.EmitDynNamePools(w.l, image, w.order)
	base.EmitRelocSection(base.RelDyn, image, w.order)
	base.EmitRelocSection(base.RelPLT, image, w.order)
	w.emitSymtab(image)
	w.emitObjectRelocs(image, objRels)
	copy(image[w.shstrSect.Offset:], w.shstrtab.bytes)
	w.emitShdrs(image, shdrOff)
	return image, nil
}

// buildSymtab collects the output symbols in category order: locals
// first, then globals, as ELF requires.
func (w *Writer) buildSymtab() {
	w.strtab = newStringTable()
	w.symIndex = make(map[*LDSymbol]uint32)
	w.m.Symbols.ForEach(func(sym *LDSymbol) {
		if sym.Info.Type == TypeSection {
			return
		}
		w.symIndex[sym] = uint32(len(w.symbols) + 1)
		w.symbols = append(w.symbols, sym)
		w.strtab.Add(sym.Name())
	})

	w.symtabSect = NewLDSection(".symtab", SectionNamePool, uint32(elf.SHT_SYMTAB), 0)
	w.symtabSect.Align = 4
	w.symtabSect.EntSize = uint32(SymSize)
	w.symtabSect.Size = uint64(len(w.symbols)+1) * uint64(SymSize)
	w.symtabSect.Info = uint32(w.m.Symbols.NumOfLocals() + 1)

	w.strtabSect = NewLDSection(".strtab", SectionNamePool, uint32(elf.SHT_STRTAB), 0)
	w.strtabSect.Size = uint64(len(w.strtab.bytes))
	w.symtabSect.Link = w.strtabSect
}

// objectReloc couples a relocatable output's .rel.<sect> to its data
// section.
type objectReloc struct {
	sect   *LDSection
	target *LDSection
	relocs []*Relocation
}

// buildObjectRelocs re-emits input relocations when the output is
// itself relocatable.
func (w *Writer) buildObjectRelocs() []*objectReloc {
	if !w.cfg.IsObject() {
		return nil
	}
	byTarget := make(map[*LDSection]*objectReloc)
	var out []*objectReloc
	for _, rs := range w.m.RelocSections {
		target := rs.Target.OutSection
		if target == nil {
			continue
		}
		or, ok := byTarget[target]
		if !ok {
			sect := NewLDSection(".rel"+target.Name, SectionRelocation,
				uint32(elf.SHT_REL), 0)
			sect.Align = 4
			sect.EntSize = uint32(RelSize)
			or = &objectReloc{sect: sect, target: target}
			byTarget[target] = or
			out = append(out, or)
		}
		or.relocs = append(or.relocs, rs.Relocs...)
	}
	for _, or := range out {
		or.sect.Size = uint64(len(or.relocs)) * uint64(RelSize)
		or.sect.Link = or.target
	}
	return out
}

// placeTrailingSections appends, in this order, .symtab, the relocatable
// output's .rel.* sections, .strtab and .shstrtab after the laid-out
// content.
func (w *Writer) placeTrailingSections(objRels []*objectReloc) {
	w.shstrtab = newStringTable()
	for _, sect := range w.m.OutputSections {
		w.shstrtab.Add(sect.Name)
	}

	trailing := []*LDSection{w.symtabSect}
	for _, or := range objRels {
		trailing = append(trailing, or.sect)
	}
	trailing = append(trailing, w.strtabSect)

	w.shstrSect = NewLDSection(".shstrtab", SectionNamePool, uint32(elf.SHT_STRTAB), 0)
	trailing = append(trailing, w.shstrSect)
	for _, sect := range trailing {
		w.shstrtab.Add(sect.Name)
	}
	w.shstrSect.Size = uint64(len(w.shstrtab.bytes))

	off := uint64(EhdrSize)
	for _, sect := range w.m.OutputSections {
		if sect.Type == uint32(elf.SHT_NOBITS) {
			continue
		}
		if sect.Offset+sect.Size > off {
			off = sect.Offset + sect.Size
		}
	}
	for _, sect := range trailing {
		align := sect.Align
		if align == 0 {
			align = 1
		}
		off = utils.AlignTo(off, align)
		sect.Offset = off
		off += sect.Size
		sect.Index = uint32(len(w.m.OutputSections) + 1)
		w.m.OutputSections = append(w.m.OutputSections, sect)
	}
}

func (w *Writer) sectionHeaderOffset() uint64 {
	end := uint64(EhdrSize)
	for _, sect := range w.m.OutputSections {
		if sect.Type == uint32(elf.SHT_NOBITS) {
			continue
		}
		if sect.Offset+sect.Size > end {
			end = sect.Offset + sect.Size
		}
	}
	return utils.AlignTo(end, 4)
}

func (w *Writer) entryAddress() uint64 {
	if !w.cfg.IsExec() {
		if w.cfg.IsObject() {
			return 0
		}
	}
	if info := w.m.NamePool.Find(w.cfg.Entry); info != nil && info.OutSymbol != nil {
		return info.OutSymbol.Addr()
	}
	if sect := w.m.FindOutputSection(".text"); sect != nil {
		return sect.Addr
	}
	return 0
}

func (w *Writer) emitEhdr(image []byte, shdrOff uint64) {
	ehdr := Ehdr{}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS32)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	switch w.cfg.OutputType {
	case OutputObject:
		ehdr.Type = uint16(elf.ET_REL)
	case OutputDynObj:
		ehdr.Type = uint16(elf.ET_DYN)
	case OutputExec:
		ehdr.Type = uint16(elf.ET_EXEC)
	}
	ehdr.Machine = w.backend.Machine()
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.Entry = uint32(w.entryAddress())
	ehdr.Flags = w.backend.Flags()
	ehdr.EhSize = uint16(EhdrSize)
	ehdr.ShOff = uint32(shdrOff)
	ehdr.ShEntSize = uint16(ShdrSize)
	ehdr.ShNum = uint16(len(w.m.OutputSections) + 1)
	ehdr.ShStrndx = uint16(w.shstrSect.Index)
	if !w.cfg.IsObject() {
		ehdr.PhOff = uint32(EhdrSize)
		ehdr.PhEntSize = uint16(PhdrSize)
		ehdr.PhNum = uint16(ProgramHeaderCount(w.m))
	}
	utils.Write[Ehdr](w.order, image, ehdr)
}

func (w *Writer) emitPhdrs(image []byte) {
	base := w.backend.DefaultTextSegmentAddr()
	memEnd := base
	for _, sect := range w.m.OutputSections {
		if sect.IsAlloc() && sect.Addr+sect.Size > memEnd {
			memEnd = sect.Addr + sect.Size
		}
	}
	fileEnd := AllocImageEnd(w.m)

	buf := image[EhdrSize:]
	load := Phdr{
		Type:     uint32(elf.PT_LOAD),
		Offset:   0,
		VAddr:    uint32(base),
		PAddr:    uint32(base),
		FileSize: uint32(fileEnd),
		MemSize:  uint32(memEnd - base),
		Flags:    uint32(elf.PF_R | elf.PF_W | elf.PF_X),
		Align:    uint32(w.backend.ABIPageSize()),
	}
	utils.Write[Phdr](w.order, buf, load)
	buf = buf[PhdrSize:]

	if dyn := w.m.FindOutputSection(".dynamic"); dyn != nil && dyn.Size > 0 {
		utils.Write[Phdr](w.order, buf, Phdr{
			Type:     uint32(elf.PT_DYNAMIC),
			Offset:   uint32(dyn.Offset),
			VAddr:    uint32(dyn.Addr),
			PAddr:    uint32(dyn.Addr),
			FileSize: uint32(dyn.Size),
			MemSize:  uint32(dyn.Size),
			Flags:    uint32(elf.PF_R | elf.PF_W),
			Align:    4,
		})
	}
}

// emitSectionData copies every fragment into the image.
func (w *Writer) emitSectionData(image []byte) {
	for _, sect := range w.m.OutputSections {
		if sect.Data == nil || sect.Type == uint32(elf.SHT_NOBITS) {
			continue
		}
		base := image[sect.Offset:]
		for _, frag := range sect.Data.Fragments {
			switch frag.Kind {
			case FragRegion, FragTarget:
				copy(base[frag.Offset:], frag.Data)
			case FragFill:
				for i := uint64(0); i < frag.Size(); i++ {
					base[frag.Offset+i] = frag.Pattern
				}
			}
		}
	}
}

func (w *Writer) emitSymtab(image []byte) {
	buf := image[w.symtabSect.Offset:]
	for i, sym := range w.symbols {
		emitSym(w.order, buf[(i+1)*SymSize:], sym, w.strtab.Add(sym.Name()))
	}
	copy(image[w.strtabSect.Offset:], w.strtab.bytes)
}

func (w *Writer) emitObjectRelocs(image []byte, objRels []*objectReloc) {
	for _, or := range objRels {
		buf := image[or.sect.Offset:]
		for i, reloc := range or.relocs {
			symIdx := uint32(0)
			if reloc.Sym != nil && reloc.Sym.OutSymbol != nil {
				symIdx = w.symIndex[reloc.Sym.OutSymbol]
			}
			utils.Write[Rel](w.order, buf[i*RelSize:], Rel{
				Offset: uint32(reloc.TargetRef.OutputOffset()),
				Info:   symIdx<<8 | reloc.Type&0xff,
			})
		}
	}
}

func (w *Writer) emitShdrs(image []byte, shdrOff uint64) {
	buf := image[shdrOff:]
	utils.Write[Shdr](w.order, buf, Shdr{}) // index 0 stays null
	for _, sect := range w.m.OutputSections {
		link := uint32(0)
		info := sect.Info
		if sect.Link != nil {
			link = sect.Link.Index
		}
		switch sect.Type {
		case uint32(elf.SHT_SYMTAB):
			link = w.strtabSect.Index
		case uint32(elf.SHT_REL):
			// a relocatable output's .rel.* names its target through
			// sh_info; the dynamic flavor links .dynsym instead
			if w.cfg.IsObject() {
				info = link
				link = w.symtabSect.Index
			}
		case uint32(elf.SHT_DYNSYM):
			info = 1 // one leading null local
		}
		utils.Write[Shdr](w.order, buf[int(sect.Index)*ShdrSize:], Shdr{
			Name:      w.shstrtab.Add(sect.Name),
			Type:      sect.Type,
			Flags:     sect.Flags,
			Addr:      uint32(sect.Addr),
			Offset:    uint32(sect.Offset),
			Size:      uint32(sect.Size),
			Link:      link,
			Info:      info,
			AddrAlign: uint32(sect.Align),
			EntSize:   sect.EntSize,
		})
	}
}
