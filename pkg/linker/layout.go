package linker

import (
	"debug/elf"
	"sort"

	"github.com/syfchao/mclinker/pkg/utils"
)

// sectionRank orders output sections in the image: dynamic-linking
// tables first, then read-only, code, the RELRO-ish run (.dynamic,
// .got), writable data, and bss at the alloc tail. Non-alloc content
// follows after everything with an address.
func sectionRank(sect *LDSection) int {
	switch sect.Name {
	case ".hash":
		return 0
	case ".dynsym":
		return 1
	case ".dynstr":
		return 2
	case ".rel.dyn":
		return 3
	case ".rel.plt":
		return 4
	case ".plt":
		return 8
	case ".dynamic":
		return 11
	case ".got":
		return 12
	}

	if !sect.IsAlloc() {
		return 1 << 20
	}
	if sect.Type == uint32(elf.SHT_NOTE) {
		return 5
	}
	isBSS := sect.Type == uint32(elf.SHT_NOBITS)
	switch {
	case isBSS:
		return 14
	case sect.IsExec():
		return 7
	case !sect.IsWritable():
		return 6
	default:
		return 13
	}
}

// ProgramHeaderCount is the phdr table length for non-object outputs:
// one RWX load plus PT_DYNAMIC when a dynamic section exists.
func ProgramHeaderCount(m *Module) int {
	count := 1
	if sect := m.FindOutputSection(".dynamic"); sect != nil && sect.Size > 0 {
		count++
	}
	return count
}

// layoutSections freezes sizes, orders the sections and assigns every
// alloc section its address and file offset. The image maps as one
// segment, so file offset tracks address minus the load base.
func layoutSections(cfg *Config, m *Module, backend Backend) {
	for _, sect := range m.OutputSections {
		if sect.Data != nil {
			if size := sect.Data.ComputeSize(); size > sect.Size {
				sect.Size = size
			}
		}
	}

	sort.SliceStable(m.OutputSections, func(i, j int) bool {
		return sectionRank(m.OutputSections[i]) < sectionRank(m.OutputSections[j])
	})
	for i, sect := range m.OutputSections {
		sect.Index = uint32(i + 1) // shdr 0 stays SHT_NULL
	}

	off := uint64(EhdrSize)
	base := uint64(0)
	if !cfg.IsObject() {
		base = backend.DefaultTextSegmentAddr()
		off += uint64(ProgramHeaderCount(m)) * uint64(PhdrSize)
	}

	for _, sect := range m.OutputSections {
		if !sect.IsAlloc() {
			continue
		}
		align := sect.Align
		if align == 0 {
			align = 1
		}
		utils.Assert(utils.IsPowerOfTwo(align))
		off = utils.AlignTo(off, align)
		sect.Offset = off
		if !cfg.IsObject() {
			sect.Addr = base + off
		}
		if sect.Type != uint32(elf.SHT_NOBITS) {
			off += sect.Size
		}
	}

	for _, sect := range m.OutputSections {
		if sect.IsAlloc() {
			continue
		}
		align := sect.Align
		if align == 0 {
			align = 1
		}
		off = utils.AlignTo(off, align)
		sect.Offset = off
		if sect.Type != uint32(elf.SHT_NOBITS) {
			off += sect.Size
		}
	}
}

// AllocImageEnd reports the end of the address-bearing file content.
func AllocImageEnd(m *Module) uint64 {
	end := uint64(EhdrSize)
	for _, sect := range m.OutputSections {
		if !sect.IsAlloc() || sect.Type == uint32(elf.SHT_NOBITS) {
			continue
		}
		if sect.Offset+sect.Size > end {
			end = sect.Offset + sect.Size
		}
	}
	return end
}
