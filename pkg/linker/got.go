package linker

import (
	"github.com/syfchao/mclinker/pkg/utils"
)

const GOTEntrySize = 4

// GOT owns the .got output section's entries. Scan-time Reserve calls
// size the section; apply-time GetEntry hands each symbol its slot,
// at most one per symbol.
type GOT struct {
	Section *LDSection
	Data    *SectionData

	entries  map[*ResolveInfo]*Fragment
	reserved int

	// header entries the ABI fixes at the GOT start (ARM: 3, MIPS: 2)
	headerNum int
}

func NewGOT(section *LDSection, headerNum int) *GOT {
	g := &GOT{
		Section:   section,
		Data:      section.GetSectionData(),
		entries:   make(map[*ResolveInfo]*Fragment),
		headerNum: headerNum,
	}
	g.Section.Align = GOTEntrySize
	for i := 0; i < headerNum; i++ {
		g.Data.Append(NewTargetFragment(GOTEntrySize), GOTEntrySize)
	}
	return g
}

// Reserve adds one future entry to the section size.
func (g *GOT) Reserve(num int) {
	g.reserved += num
}

// GetEntry returns the symbol's entry, allocating one out of the
// reserved pool on first use. exist reports whether the entry was
// already initialized.
func (g *GOT) GetEntry(sym *ResolveInfo) (entry *Fragment, exist bool) {
	if entry, exist = g.entries[sym]; exist {
		return entry, true
	}
	utils.Assert(g.reserved > 0)
	g.reserved--
	entry = NewTargetFragment(GOTEntrySize)
	g.Data.Append(entry, GOTEntrySize)
	g.entries[sym] = entry
	return entry, false
}

// EntryCount reports allocated plus still-reserved entries, header
// included.
func (g *GOT) EntryCount() int {
	return g.headerNum + len(g.entries) + g.reserved
}

// FinalizeSectionSize freezes .got's size for layout.
func (g *GOT) FinalizeSectionSize() {
	g.Section.Size = uint64(g.EntryCount()) * GOTEntrySize
}

func (g *GOT) HasEntries() bool {
	return len(g.entries)+g.reserved > 0
}

// EntryOffset is the entry's byte offset from the GOT base; valid once
// the entry was handed out.
func (g *GOT) EntryOffset(entry *Fragment) uint64 {
	return entry.Offset
}
