package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/mem"
)

func newTestInput(t *testing.T, content []byte, inputType InputType) *Input {
	t.Helper()
	in := NewInput("test.o", mem.NewAreaFromBytes(content, 0), NewAttribute())
	in.Type = inputType
	return in
}

func TestFileTypeMapping(t *testing.T) {
	cases := []struct {
		eType uint16
		want  InputType
	}{
		{uint16(elf.ET_REL), InputObject},
		{uint16(elf.ET_DYN), InputDynObj},
		{uint16(elf.ET_EXEC), InputExec},
		{uint16(elf.ET_CORE), InputCoreFile},
		{0xfff0, InputUnknown},
	}
	for _, c := range cases {
		content := buildELF(c.eType, uint16(elf.EM_ARM), nil)
		assert.Equal(t, c.want, GetInputTypeFromContent(content))
	}
}

func TestFileTypeNonELF(t *testing.T) {
	assert.Equal(t, InputUnknown, GetInputTypeFromContent([]byte("hello")))
	assert.Equal(t, InputArchive, GetInputTypeFromContent([]byte("!<arch>\nrest")))
}

func TestVerifyFileRejectsWrongMachine(t *testing.T) {
	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_MIPS), d)
	content := buildELF(uint16(elf.ET_REL), uint16(elf.EM_ARM), nil)
	in := newTestInput(t, content, InputObject)
	assert.Error(t, r.VerifyFile(in))
}

func TestVerifyFileAcceptsMatch(t *testing.T) {
	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	content := buildELF(uint16(elf.ET_REL), uint16(elf.EM_ARM), nil)
	in := newTestInput(t, content, InputObject)
	assert.NoError(t, r.VerifyFile(in))
}

func TestReadSectionHeaders(t *testing.T) {
	strtab, offs := encodeStrtab([]string{"main"})
	symtab := encodeSyms([]Sym{{
		Name:  offs["main"],
		Info:  mkSymInfo(elf.STB_GLOBAL, elf.STT_FUNC),
		Shndx: 1,
	}})
	content := buildELF(uint16(elf.ET_REL), uint16(elf.EM_ARM), []testSection{
		{name: ".text", typ: uint32(elf.SHT_PROGBITS),
			flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			data:  make([]byte, 8), align: 4},
		{name: ".rel.text", typ: uint32(elf.SHT_REL), data: encodeRels(nil),
			link: 3, info: 1, entSize: uint32(RelSize), align: 4},
		{name: ".symtab", typ: uint32(elf.SHT_SYMTAB), data: symtab,
			link: 4, info: 1, entSize: uint32(SymSize), align: 4},
		{name: ".strtab", typ: uint32(elf.SHT_STRTAB), data: strtab},
		{name: ".bss", typ: uint32(elf.SHT_NOBITS),
			flags: uint32(elf.SHF_ALLOC | elf.SHF_WRITE), data: make([]byte, 16)},
	})

	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	in := newTestInput(t, content, InputObject)
	ehdr, err := r.ReadHeader(in)
	require.NoError(t, err)
	require.NoError(t, r.ReadSectionHeaders(in, &ehdr))

	sects := in.Context.Sections
	require.Len(t, sects, 7) // null + 5 + .shstrtab

	assert.Equal(t, SectionNull, sects[0].Kind)
	assert.Equal(t, ".text", sects[1].Name)
	assert.Equal(t, SectionRegular, sects[1].Kind)
	assert.Equal(t, uint64(4), sects[1].Align)

	// a relocation section links the section it patches
	assert.Equal(t, SectionRelocation, sects[2].Kind)
	require.NotNil(t, sects[2].Link)
	assert.Same(t, sects[1], sects[2].Link)

	// a name pool links its string table
	assert.Equal(t, SectionNamePool, sects[3].Kind)
	require.NotNil(t, sects[3].Link)
	assert.Same(t, sects[4], sects[3].Link)

	assert.Equal(t, SectionBSS, sects[5].Kind)

	// regions must all be given back before the phase returns
	assert.Equal(t, 0, in.Area.Borrowed())
}

func TestReadSectionHeadersEmptyTable(t *testing.T) {
	content := buildELF(uint16(elf.ET_REL), uint16(elf.EM_ARM), nil)
	// force shoff == 0: a valid empty case
	content[32] = 0
	content[33] = 0
	content[34] = 0
	content[35] = 0

	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	in := newTestInput(t, content, InputObject)
	ehdr, err := r.ReadHeader(in)
	require.NoError(t, err)
	require.NoError(t, r.ReadSectionHeaders(in, &ehdr))
	assert.Empty(t, in.Context.Sections)
}

func TestReadSymbolTable(t *testing.T) {
	strtab, offs := encodeStrtab([]string{"local_data", "global_fn"})
	symtab := encodeSyms([]Sym{
		{Name: offs["local_data"], Value: 4, Size: 4,
			Info: mkSymInfo(elf.STB_LOCAL, elf.STT_OBJECT), Shndx: 1},
		{Name: offs["global_fn"], Value: 0, Size: 8,
			Info: mkSymInfo(elf.STB_GLOBAL, elf.STT_FUNC), Shndx: 1},
	})
	content := buildELF(uint16(elf.ET_REL), uint16(elf.EM_ARM), []testSection{
		{name: ".text", typ: uint32(elf.SHT_PROGBITS),
			flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR), data: make([]byte, 8)},
		{name: ".symtab", typ: uint32(elf.SHT_SYMTAB), data: symtab,
			link: 3, info: 2, entSize: uint32(SymSize)},
		{name: ".strtab", typ: uint32(elf.SHT_STRTAB), data: strtab},
	})

	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	in := newTestInput(t, content, InputObject)
	ehdr, err := r.ReadHeader(in)
	require.NoError(t, err)
	require.NoError(t, r.ReadSectionHeaders(in, &ehdr))
	require.NoError(t, r.ReadSymbolTable(in))

	require.Len(t, in.Context.ElfSyms, 3)
	assert.Equal(t, uint32(2), in.Context.FirstGlobal)
	assert.Equal(t, "global_fn", ElfGetName(in.Context.SymStrTab, in.Context.ElfSyms[2].Name))
	assert.Equal(t, uint8(elf.STB_GLOBAL), in.Context.ElfSyms[2].Bind())
	assert.Equal(t, uint8(elf.STT_FUNC), in.Context.ElfSyms[2].Type())
}

func TestReadDynamic(t *testing.T) {
	dynstr, offs := encodeStrtab([]string{"libm.so.6", "/lib/libdep.so"})
	dynamic := encodeDyns([]Dyn{
		{Tag: uint32(elf.DT_NEEDED), Val: offs["libm.so.6"]},
		{Tag: uint32(elf.DT_SONAME), Val: offs["/lib/libdep.so"]},
		{Tag: uint32(elf.DT_NULL)},
	})
	content := buildELF(uint16(elf.ET_DYN), uint16(elf.EM_ARM), []testSection{
		{name: ".dynstr", typ: uint32(elf.SHT_STRTAB), flags: uint32(elf.SHF_ALLOC),
			data: dynstr},
		{name: ".dynamic", typ: uint32(elf.SHT_DYNAMIC),
			flags: uint32(elf.SHF_ALLOC | elf.SHF_WRITE),
			data:  dynamic, link: 1, entSize: uint32(DynSize)},
	})

	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	in := newTestInput(t, content, InputDynObj)
	ehdr, err := r.ReadHeader(in)
	require.NoError(t, err)
	require.NoError(t, r.ReadSectionHeaders(in, &ehdr))

	needed, err := r.ReadDynamic(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"libm.so.6"}, needed)
	// the input takes the basename of its SONAME
	assert.Equal(t, "libdep.so", in.Name)
}

func TestReadDynamicMissingSection(t *testing.T) {
	content := buildELF(uint16(elf.ET_DYN), uint16(elf.EM_ARM), nil)
	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	in := newTestInput(t, content, InputDynObj)
	ehdr, err := r.ReadHeader(in)
	require.NoError(t, err)
	require.NoError(t, r.ReadSectionHeaders(in, &ehdr))

	_, err = r.ReadDynamic(in)
	assert.Error(t, err)
}

func TestReadSignature(t *testing.T) {
	strtab, offs := encodeStrtab([]string{"group_sig"})
	symtab := encodeSyms([]Sym{{
		Name: offs["group_sig"], Size: 12,
		Info:  mkSymInfo(elf.STB_WEAK, elf.STT_OBJECT),
		Shndx: uint16(elf.SHN_COMMON),
	}})
	content := buildELF(uint16(elf.ET_REL), uint16(elf.EM_ARM), []testSection{
		{name: ".symtab", typ: uint32(elf.SHT_SYMTAB), data: symtab,
			link: 2, info: 1, entSize: uint32(SymSize)},
		{name: ".strtab", typ: uint32(elf.SHT_STRTAB), data: strtab},
	})

	d := diag.NewEngine(nil)
	r := NewReader(uint16(elf.EM_ARM), d)
	in := newTestInput(t, content, InputObject)
	ehdr, err := r.ReadHeader(in)
	require.NoError(t, err)
	require.NoError(t, r.ReadSectionHeaders(in, &ehdr))

	info, err := r.ReadSignature(in, in.Context.Sections[1], 1)
	require.NoError(t, err)
	assert.Equal(t, "group_sig", info.Name)
	assert.Equal(t, BindWeak, info.Binding)
	assert.Equal(t, TypeObject, info.Type)
	assert.Equal(t, DescCommon, info.Desc)
	assert.Equal(t, uint64(12), info.Size)
}

func TestDescFromShndx(t *testing.T) {
	assert.Equal(t, DescUndefined, DescFromShndx(uint16(elf.SHN_UNDEF)))
	assert.Equal(t, DescCommon, DescFromShndx(uint16(elf.SHN_COMMON)))
	assert.Equal(t, DescDefine, DescFromShndx(3))
}
