package linker

import (
	"bytes"
	"debug/elf"
	"strconv"
	"strings"
	"unsafe"

	"github.com/syfchao/mclinker/pkg/utils"
)

const EhdrSize = int(unsafe.Sizeof(Ehdr{}))
const ShdrSize = int(unsafe.Sizeof(Shdr{}))
const SymSize = int(unsafe.Sizeof(Sym{}))
const PhdrSize = int(unsafe.Sizeof(Phdr{}))
const RelSize = int(unsafe.Sizeof(Rel{}))
const DynSize = int(unsafe.Sizeof(Dyn{}))
const AhdrSize = int(unsafe.Sizeof(ArHdr{}))

// ELF32 structures. The target is always 32-bit (EM_ARM, EM_MIPS o32).
type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	PhOff     uint32
	ShOff     uint32
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

type Phdr struct {
	Type     uint32
	Offset   uint32
	VAddr    uint32
	PAddr    uint32
	FileSize uint32
	MemSize  uint32
	Flags    uint32
	Align    uint32
}

type Sym struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

// Rel is the REL-format entry; ARM and MIPS use implicit addends.
type Rel struct {
	Offset uint32
	Info   uint32
}

type Dyn struct {
	Tag uint32
	Val uint32
}

func (s *Sym) Bind() uint8 { return s.Info >> 4 }

func (s *Sym) Type() uint8 { return s.Info & 0xf }

func (s *Sym) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym) IsCommon() bool {
	return s.Shndx == uint16(elf.SHN_COMMON)
}

func (r *Rel) SymIndex() uint32 { return r.Info >> 8 }

func (r *Rel) Type() uint32 { return r.Info & 0xff }

// MIPS ABI flag words debug/elf does not carry.
const (
	EF_MIPS_NOREORDER = 0x00000001
	EF_MIPS_PIC       = 0x00000002
	EF_MIPS_CPIC      = 0x00000004
	EF_MIPS_ARCH_32R2 = 0x70000000
	E_MIPS_ABI_O32    = 0x00001000
)

const EF_ARM_EABI_VER5 = 0x05000000

// DT_FLAGS bits.
const DF_TEXTREL = 0x4

type ArHdr struct {
	Name [16]byte
	Date [12]byte
	Uid  [6]byte
	Gid  [6]byte
	Mode [8]byte
	Size [10]byte
	Fmag [2]byte
}

func (a *ArHdr) HasPrefix(s string) bool {
	return strings.HasPrefix(string(a.Name[:]), s)
}

func (a *ArHdr) IsStrTab() bool {
	return a.HasPrefix("// ")
}

func (a *ArHdr) IsSymtab() bool {
	return a.HasPrefix("/ ") || a.HasPrefix("/SYM64/ ")
}

func (a *ArHdr) GetSize() int {
	trimmed := strings.TrimSpace(string(a.Size[:]))
	size, err := strconv.Atoi(trimmed)
	utils.MustNo(err)
	return size
}

func (a *ArHdr) ReadName(strTab []byte) string {
	// Long Name
	// "/123    " => the number is the start index in strTab
	if a.HasPrefix("/") {
		trimmed := strings.TrimSpace(string(a.Name[1:]))
		start, err := strconv.Atoi(trimmed)
		utils.MustNo(err)
		end := start + bytes.Index(strTab[start:], []byte("/\n"))
		return string(strTab[start:end])
	}
	// Short Name
	end := bytes.Index(a.Name[:], []byte("/"))
	utils.Assert(end != -1)
	return string(a.Name[:end])
}

func ElfGetName(strTab []byte, offset uint32) string {
	if offset >= uint32(len(strTab)) {
		return ""
	}
	length := uint32(bytes.Index(strTab[offset:], []byte{0}))
	return string(strTab[offset : offset+length])
}

func WriteMagic(ident []byte) {
	copy(ident, "\177ELF")
}

func CheckMagic(content []byte) bool {
	return bytes.HasPrefix(content, []byte("\177ELF"))
}
