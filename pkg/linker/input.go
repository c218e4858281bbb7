package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"path/filepath"

	"github.com/syfchao/mclinker/pkg/mem"
)

type InputType uint8

const (
	InputUnknown InputType = iota
	InputObject
	InputDynObj
	InputExec
	InputCoreFile
	InputArchive
)

func (t InputType) String() string {
	switch t {
	case InputObject:
		return "object"
	case InputDynObj:
		return "dynobj"
	case InputExec:
		return "exec"
	case InputCoreFile:
		return "core"
	case InputArchive:
		return "archive"
	}
	return "unknown"
}

// Attribute carries the position-dependent command-line attributes that
// were in force when the input appeared.
type Attribute struct {
	AsNeeded     bool
	AddNeeded    bool
	Static       bool
	WholeArchive bool
}

func NewAttribute() *Attribute {
	return &Attribute{AddNeeded: true}
}

// Input is one file participating in the link. FileOffset is nonzero
// when the input is an archive member.
type Input struct {
	Path       string
	Name       string
	Type       InputType
	FileOffset uint64
	Area       *mem.Area
	Context    *Context
	Attr       *Attribute

	// Needed marks a DynObj that satisfied at least one reference;
	// consulted by the --as-needed DT_NEEDED policy.
	Needed bool
}

func NewInput(path string, area *mem.Area, attr *Attribute) *Input {
	return &Input{
		Path:    path,
		Name:    filepath.Base(path),
		Area:    area,
		Context: NewContext(),
		Attr:    attr,
	}
}

// GetInputTypeFromContent classifies raw file bytes.
func GetInputTypeFromContent(content []byte) InputType {
	if bytes.HasPrefix(content, []byte("!<arch>\n")) {
		return InputArchive
	}
	if !CheckMagic(content) || len(content) < EhdrSize {
		return InputUnknown
	}
	var elfType uint16
	order := OrderFromIdent(content)
	if order == nil {
		return InputUnknown
	}
	elfType = order.Uint16(content[16:18])
	switch elf.Type(elfType) {
	case elf.ET_REL:
		return InputObject
	case elf.ET_DYN:
		return InputDynObj
	case elf.ET_EXEC:
		return InputExec
	case elf.ET_CORE:
		return InputCoreFile
	}
	return InputUnknown
}

// GetMachineFromContent peeks e_machine; zero when not an ELF.
func GetMachineFromContent(content []byte) uint16 {
	if !CheckMagic(content) || len(content) < EhdrSize {
		return 0
	}
	order := OrderFromIdent(content)
	if order == nil {
		return 0
	}
	return order.Uint16(content[18:20])
}

// OrderFromIdent maps ei_data to a byte order; nil for a bad encoding.
func OrderFromIdent(ident []byte) binary.ByteOrder {
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		return binary.LittleEndian
	case elf.ELFDATA2MSB:
		return binary.BigEndian
	}
	return nil
}
