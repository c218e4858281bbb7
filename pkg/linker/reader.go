package linker

import (
	"debug/elf"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/utils"
)

// Reader decodes one input's ELF structure: header, section-header
// table, symbol table and .dynamic. Multi-byte fields are decoded at
// the file's own byte order, so a little-endian input reads the same on
// any host; single-byte fields (st_info, st_other) are never swapped.
type Reader struct {
	machine uint16
	d       *diag.Engine
}

func NewReader(machine uint16, d *diag.Engine) *Reader {
	return &Reader{machine: machine, d: d}
}

func IsELF(header []byte) bool {
	return CheckMagic(header)
}

func (r *Reader) IsMyEndian(header []byte) bool {
	// Both supported targets are little-endian ELF32.
	return elf.Data(header[elf.EI_DATA]) == elf.ELFDATA2LSB
}

func (r *Reader) IsMyMachine(header []byte) bool {
	order := OrderFromIdent(header)
	return order != nil && order.Uint16(header[18:20]) == r.machine
}

// FileType maps e_type, honoring the file's encoding irrespective of
// the host's.
func FileType(header []byte) InputType {
	return GetInputTypeFromContent(header)
}

// VerifyFile rejects inputs whose class, encoding or machine mismatch
// the target.
func (r *Reader) VerifyFile(in *Input) error {
	content, err := in.Area.Request(0, uint64(EhdrSize))
	if err != nil {
		return errors.Wrap(err, in.Path)
	}
	defer in.Area.Release(content)
	header := content.Bytes()

	if !IsELF(header) {
		return r.d.Errorf(diag.NotAnELF, "%s", in.Path)
	}
	if elf.Class(header[elf.EI_CLASS]) != elf.ELFCLASS32 {
		return r.d.Errorf(diag.WrongClass, "%s", in.Path)
	}
	if !r.IsMyEndian(header) {
		return r.d.Errorf(diag.WrongEndian, "%s", in.Path)
	}
	order := OrderFromIdent(header)
	if order.Uint16(header[18:20]) != r.machine {
		return r.d.Errorf(diag.WrongMachine, "%s: machine %d, want %d",
			in.Path, order.Uint16(header[18:20]), r.machine)
	}
	return nil
}

// ReadHeader decodes the ELF header and records the file's byte order
// on the input's context.
func (r *Reader) ReadHeader(in *Input) (Ehdr, error) {
	var ehdr Ehdr
	region, err := in.Area.Request(0, uint64(EhdrSize))
	if err != nil {
		return ehdr, errors.Wrap(err, in.Path)
	}
	defer in.Area.Release(region)

	header := region.Bytes()
	order := OrderFromIdent(header)
	if order == nil {
		return ehdr, r.d.Errorf(diag.WrongEndian, "%s: bad ei_data", in.Path)
	}
	in.Context.Order = order
	utils.Read[Ehdr](order, header, &ehdr)
	return ehdr, nil
}

// ReadSectionHeaders builds the input's LDSection catalogue. A deferred
// pass resolves inter-section links once every section exists:
// NamePool, Group, Note and Dynamic follow sh_link; Relocation follows
// sh_info. shoff == 0 is a valid empty table.
func (r *Reader) ReadSectionHeaders(in *Input, ehdr *Ehdr) error {
	if ehdr.ShOff == 0 {
		return nil
	}
	order := in.Context.Order

	shdrsRegion, err := in.Area.Request(uint64(ehdr.ShOff),
		uint64(ehdr.ShNum)*uint64(ehdr.ShEntSize))
	if err != nil {
		return r.d.Errorf(diag.SectionOutOfRange, "%s: section header table", in.Path)
	}
	shdrs := utils.ReadSlice[Shdr](order, shdrsRegion.Bytes(), ShdrSize)

	if int(ehdr.ShStrndx) >= len(shdrs) {
		in.Area.Release(shdrsRegion)
		return r.d.Errorf(diag.SectionOutOfRange, "%s: shstrndx %d", in.Path, ehdr.ShStrndx)
	}
	strShdr := shdrs[ehdr.ShStrndx]
	strRegion, err := in.Area.Request(uint64(strShdr.Offset), uint64(strShdr.Size))
	if err != nil {
		in.Area.Release(shdrsRegion)
		return r.d.Errorf(diag.SectionOutOfRange, "%s: .shstrtab", in.Path)
	}
	shstrtab := strRegion.Bytes()

	in.Context.Sections = make([]*LDSection, len(shdrs))
	for i, shdr := range shdrs {
		name := ElfGetName(shstrtab, shdr.Name)
		kind := GetSectionKind(shdr.Type, name)
		sect := NewLDSection(name, kind, shdr.Type, shdr.Flags)
		sect.Size = uint64(shdr.Size)
		sect.Offset = uint64(shdr.Offset)
		sect.Addr = uint64(shdr.Addr)
		sect.Info = shdr.Info
		sect.EntSize = shdr.EntSize
		sect.Index = uint32(i)
		if shdr.AddrAlign > 1 {
			sect.Align = uint64(shdr.AddrAlign)
		}
		in.Context.Sections[i] = sect
	}

	// deferred link resolution
	for i, shdr := range shdrs {
		sect := in.Context.Sections[i]
		switch {
		case sect.Kind == SectionRelocation:
			if int(shdr.Info) < len(in.Context.Sections) {
				sect.Link = in.Context.Sections[shdr.Info]
			}
		case sect.Kind == SectionNamePool || sect.Kind == SectionGroup ||
			sect.Kind == SectionNote || sect.Type == uint32(elf.SHT_DYNAMIC):
			if int(shdr.Link) < len(in.Context.Sections) {
				sect.Link = in.Context.Sections[shdr.Link]
			}
		}
	}

	in.Area.Release(strRegion)
	in.Area.Release(shdrsRegion)
	return nil
}

// sectionBytes lends a released-on-return copy of a section's file
// contents.
func (r *Reader) sectionBytes(in *Input, sect *LDSection) ([]byte, error) {
	region, err := in.Area.Request(sect.Offset, sect.Size)
	if err != nil {
		return nil, r.d.Errorf(diag.SectionOutOfRange, "%s: %s", in.Path, sect.Name)
	}
	owned := make([]byte, sect.Size)
	copy(owned, region.Bytes())
	in.Area.Release(region)
	return owned, nil
}

// ReadSymbolTable decodes .symtab (or .dynsym for a DynObj) into the
// input's context.
func (r *Reader) ReadSymbolTable(in *Input) error {
	symTabType := uint32(elf.SHT_SYMTAB)
	if in.Type == InputDynObj {
		symTabType = uint32(elf.SHT_DYNSYM)
	}
	symTab := in.Context.SectionByType(symTabType)
	if symTab == nil {
		return nil
	}
	in.Context.SymTab = symTab
	in.Context.FirstGlobal = symTab.Info

	bytes, err := r.sectionBytes(in, symTab)
	if err != nil {
		return err
	}
	in.Context.ElfSyms = utils.ReadSlice[Sym](in.Context.Order, bytes, SymSize)

	if symTab.Link == nil {
		return r.d.Errorf(diag.SectionOutOfRange, "%s: symtab has no string table", in.Path)
	}
	in.Context.SymStrTab, err = r.sectionBytes(in, symTab.Link)
	return err
}

// ReadSignature constructs a ResolveInfo out of the idx-th entry of a
// group section's symbol table.
func (r *Reader) ReadSignature(in *Input, symTab *LDSection, symIdx uint32) (*ResolveInfo, error) {
	region, err := in.Area.Request(symTab.Offset+uint64(symIdx)*uint64(SymSize),
		uint64(SymSize))
	if err != nil {
		return nil, r.d.Errorf(diag.SectionOutOfRange, "%s: signature symbol %d", in.Path, symIdx)
	}
	var sym Sym
	utils.Read[Sym](in.Context.Order, region.Bytes(), &sym)
	in.Area.Release(region)

	if symTab.Link == nil {
		return nil, r.d.Errorf(diag.SectionOutOfRange, "%s: group symtab has no strings", in.Path)
	}
	strTab, err := r.sectionBytes(in, symTab.Link)
	if err != nil {
		return nil, err
	}

	info := NewResolveInfo(ElfGetName(strTab, sym.Name))
	info.Dyn = in.Type == InputDynObj
	info.Type = SymType(sym.Type())
	info.Desc = DescFromShndx(sym.Shndx)
	info.Binding = BindingFromSym(&sym)
	info.Vis = Visibility(sym.Other & 0x3)
	info.Size = uint64(sym.Size)
	return info, nil
}

// ReadDynamic interprets a DynObj's .dynamic section: DT_SONAME renames
// the input; every DT_NEEDED is returned for the driver to resolve.
func (r *Reader) ReadDynamic(in *Input) ([]string, error) {
	utils.Assert(in.Type == InputDynObj)

	dynSect := in.Context.SectionByType(uint32(elf.SHT_DYNAMIC))
	if dynSect == nil {
		return nil, r.d.Errorf(diag.MissingDynamicSection, "%s", in.Path)
	}
	dynStr := dynSect.Link
	if dynStr == nil {
		dynStr = in.Context.SectionByName(".dynstr")
	}
	if dynStr == nil {
		return nil, r.d.Errorf(diag.MissingDynamicString, "%s", in.Path)
	}

	dynBytes, err := r.sectionBytes(in, dynSect)
	if err != nil {
		return nil, err
	}
	strBytes, err := r.sectionBytes(in, dynStr)
	if err != nil {
		return nil, err
	}

	var needed []string
	hasSOName := false
	for _, dyn := range utils.ReadSlice[Dyn](in.Context.Order, dynBytes, DynSize) {
		switch elf.DynTag(dyn.Tag) {
		case elf.DT_SONAME:
			in.Name = filepath.Base(ElfGetName(strBytes, dyn.Val))
			hasSOName = true
		case elf.DT_NEEDED:
			needed = append(needed, ElfGetName(strBytes, dyn.Val))
		}
	}
	if !hasSOName {
		in.Name = filepath.Base(in.Path)
	}
	return needed, nil
}

// DescFromShndx derives the symbol description out of st_shndx.
func DescFromShndx(shndx uint16) Desc {
	switch {
	case shndx == uint16(elf.SHN_UNDEF):
		return DescUndefined
	case shndx == uint16(elf.SHN_COMMON):
		return DescCommon
	default:
		return DescDefine
	}
}

// BindingFromSym derives the binding out of st_info's high nibble with
// the SHN_ABS modulation.
func BindingFromSym(sym *Sym) Binding {
	switch elf.SymBind(sym.Bind()) {
	case elf.STB_LOCAL:
		if sym.IsAbs() {
			return BindAbsolute
		}
		return BindLocal
	case elf.STB_WEAK:
		return BindWeak
	}
	if sym.IsAbs() {
		return BindAbsolute
	}
	return BindGlobal
}
