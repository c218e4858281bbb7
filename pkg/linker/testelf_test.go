package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/syfchao/mclinker/pkg/utils"
)

// testSection describes one section of a synthetic ELF32 input.
type testSection struct {
	name    string
	typ     uint32
	flags   uint32
	data    []byte
	link    uint32
	info    uint32
	entSize uint32
	align   uint32
}

// buildELF assembles a little-endian ELF32 image out of the given
// sections. A null section leads and .shstrtab trails automatically;
// caller indices therefore start at 1.
func buildELF(eType uint16, machine uint16, sections []testSection) []byte {
	order := binary.LittleEndian

	shstrtab := []byte{0}
	nameOff := func(name string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
		return off
	}

	type placed struct {
		shdr Shdr
		data []byte
	}
	all := []placed{{}} // null section

	offset := uint32(EhdrSize)
	for _, sect := range sections {
		align := sect.align
		if align == 0 {
			align = 1
		}
		offset = uint32(utils.AlignTo(uint64(offset), uint64(align)))
		shdr := Shdr{
			Name:      nameOff(sect.name),
			Type:      sect.typ,
			Flags:     sect.flags,
			Offset:    offset,
			Size:      uint32(len(sect.data)),
			Link:      sect.link,
			Info:      sect.info,
			AddrAlign: align,
			EntSize:   sect.entSize,
		}
		all = append(all, placed{shdr: shdr, data: sect.data})
		if sect.typ != uint32(elf.SHT_NOBITS) {
			offset += uint32(len(sect.data))
		}
	}

	strOff := offset
	strName := nameOff(".shstrtab")
	all = append(all, placed{
		shdr: Shdr{
			Name:      strName,
			Type:      uint32(elf.SHT_STRTAB),
			Offset:    strOff,
			Size:      uint32(len(shstrtab)),
			AddrAlign: 1,
		},
		data: shstrtab,
	})
	offset = strOff + uint32(len(shstrtab))
	shOff := uint32(utils.AlignTo(uint64(offset), 4))

	ehdr := Ehdr{
		Type:      eType,
		Machine:   machine,
		Version:   uint32(elf.EV_CURRENT),
		ShOff:     shOff,
		EhSize:    uint16(EhdrSize),
		ShEntSize: uint16(ShdrSize),
		ShNum:     uint16(len(all)),
		ShStrndx:  uint16(len(all) - 1),
	}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS32)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)

	image := make([]byte, int(shOff)+len(all)*ShdrSize)
	utils.Write[Ehdr](order, image, ehdr)
	for _, p := range all {
		if p.shdr.Type != uint32(elf.SHT_NOBITS) {
			copy(image[p.shdr.Offset:], p.data)
		}
	}
	for i, p := range all {
		utils.Write[Shdr](order, image[int(shOff)+i*ShdrSize:], p.shdr)
	}
	return image
}

// encodeSyms packs a symbol table, null entry included.
func encodeSyms(syms []Sym) []byte {
	buf := bytes.Buffer{}
	binary.Write(&buf, binary.LittleEndian, Sym{})
	for _, sym := range syms {
		binary.Write(&buf, binary.LittleEndian, sym)
	}
	return buf.Bytes()
}

// encodeStrtab packs names into a string table and returns the blob
// plus each name's offset.
func encodeStrtab(names []string) ([]byte, map[string]uint32) {
	blob := []byte{0}
	offs := make(map[string]uint32)
	for _, name := range names {
		offs[name] = uint32(len(blob))
		blob = append(blob, name...)
		blob = append(blob, 0)
	}
	return blob, offs
}

func encodeRels(rels []Rel) []byte {
	buf := bytes.Buffer{}
	for _, rel := range rels {
		binary.Write(&buf, binary.LittleEndian, rel)
	}
	return buf.Bytes()
}

func encodeDyns(dyns []Dyn) []byte {
	buf := bytes.Buffer{}
	for _, dyn := range dyns {
		binary.Write(&buf, binary.LittleEndian, dyn)
	}
	return buf.Bytes()
}

func mkSymInfo(bind elf.SymBind, typ elf.SymType) uint8 {
	return uint8(bind)<<4 | uint8(typ)&0xf
}
