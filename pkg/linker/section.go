package linker

import (
	"debug/elf"
	"strings"
)

type SectionKind uint8

const (
	SectionNull SectionKind = iota
	SectionRegular
	SectionRelocation
	SectionTarget
	SectionDebug
	SectionBSS
	SectionNote
	SectionGroup
	SectionNamePool
	SectionStackNote
	SectionEhFrame
	SectionVersion
	SectionIgnore
)

func (k SectionKind) String() string {
	switch k {
	case SectionNull:
		return "Null"
	case SectionRegular:
		return "Regular"
	case SectionRelocation:
		return "Relocation"
	case SectionTarget:
		return "Target"
	case SectionDebug:
		return "Debug"
	case SectionBSS:
		return "BSS"
	case SectionNote:
		return "Note"
	case SectionGroup:
		return "Group"
	case SectionNamePool:
		return "NamePool"
	case SectionStackNote:
		return "StackNote"
	case SectionEhFrame:
		return "EhFrame"
	case SectionVersion:
		return "Version"
	case SectionIgnore:
		return "Ignore"
	}
	return "Unknown"
}

// LDSection is one ELF section, input or output. An input section's
// Offset is its file offset; an output section's stays zero until
// layout. Size is final only after layout finalization. Align must be a
// power of two.
type LDSection struct {
	Name    string
	Kind    SectionKind
	Type    uint32
	Flags   uint32
	Size    uint64
	Offset  uint64
	Addr    uint64
	Align   uint64
	Info    uint32
	EntSize uint32
	Index   uint32

	// Link resolves the inter-section reference: a relocation section
	// points at the section it patches (sh_info); NamePool, Group and
	// Note sections point at their symbol/string table (sh_link).
	Link *LDSection

	Data *SectionData

	// set on input sections once merge placed their bytes
	OutSection  *LDSection
	OutFragment *Fragment
}

func NewLDSection(name string, kind SectionKind, typ uint32, flags uint32) *LDSection {
	return &LDSection{
		Name:  name,
		Kind:  kind,
		Type:  typ,
		Flags: flags,
		Align: 1,
	}
}

func (s *LDSection) IsAlloc() bool {
	return s.Flags&uint32(elf.SHF_ALLOC) != 0
}

func (s *LDSection) IsWritable() bool {
	return s.Flags&uint32(elf.SHF_WRITE) != 0
}

func (s *LDSection) IsExec() bool {
	return s.Flags&uint32(elf.SHF_EXECINSTR) != 0
}

func (s *LDSection) HasSectionData() bool {
	return s.Data != nil
}

// GetSectionData creates the owned SectionData on first use.
func (s *LDSection) GetSectionData() *SectionData {
	if s.Data == nil {
		s.Data = &SectionData{Section: s}
	}
	return s.Data
}

// GetSectionKind classifies (sh_type, name) the way the read phase wants
// sections bucketed.
func GetSectionKind(shType uint32, name string) SectionKind {
	switch elf.SectionType(shType) {
	case elf.SHT_NULL:
		return SectionNull
	case elf.SHT_REL, elf.SHT_RELA:
		return SectionRelocation
	case elf.SHT_SYMTAB, elf.SHT_DYNSYM, elf.SHT_STRTAB:
		return SectionNamePool
	case elf.SHT_GROUP:
		return SectionGroup
	case elf.SHT_NOTE:
		if name == ".note.GNU-stack" {
			return SectionStackNote
		}
		return SectionNote
	case elf.SHT_NOBITS:
		return SectionBSS
	case elf.SHT_GNU_VERSYM, elf.SHT_GNU_VERDEF, elf.SHT_GNU_VERNEED:
		return SectionVersion
	}

	switch {
	case strings.HasPrefix(name, ".debug") || strings.HasPrefix(name, ".zdebug") ||
		strings.HasPrefix(name, ".line") || strings.HasPrefix(name, ".stab"):
		return SectionDebug
	case strings.HasPrefix(name, ".eh_frame"):
		return SectionEhFrame
	case name == ".comment":
		return SectionIgnore
	}
	return SectionRegular
}
