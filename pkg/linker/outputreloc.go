package linker

import (
	"github.com/syfchao/mclinker/pkg/utils"
)

// OutputRelocSection buffers the dynamic relocations for .rel.dyn or
// .rel.plt. Scan-time Reserve sizes the section; apply-time GetEntry
// hands out slots. GOT-keyed requests are unique per symbol; plain
// requests always produce a fresh slot.
type OutputRelocSection struct {
	Section *LDSection

	entries  []*Relocation
	gotKeyed map[*ResolveInfo]*Relocation
	reserved int
}

func NewOutputRelocSection(section *LDSection) *OutputRelocSection {
	section.Align = 4
	section.EntSize = uint32(RelSize)
	return &OutputRelocSection{
		Section:  section,
		gotKeyed: make(map[*ResolveInfo]*Relocation),
	}
}

func (o *OutputRelocSection) Reserve(num int) {
	o.reserved += num
}

// GetEntry returns a slot for (sym, kind). The backend fills type,
// symbol and target afterward.
func (o *OutputRelocSection) GetEntry(sym *ResolveInfo, forGOT bool) (entry *Relocation, exist bool) {
	if forGOT {
		if entry, exist = o.gotKeyed[sym]; exist {
			return entry, true
		}
	}
	utils.Assert(o.reserved > 0)
	o.reserved--
	entry = &Relocation{Sym: sym}
	o.entries = append(o.entries, entry)
	if forGOT {
		o.gotKeyed[sym] = entry
	}
	return entry, false
}

func (o *OutputRelocSection) Entries() []*Relocation {
	return o.entries
}

func (o *OutputRelocSection) EntryCount() int {
	return len(o.entries) + o.reserved
}

func (o *OutputRelocSection) Empty() bool {
	return o.EntryCount() == 0
}

func (o *OutputRelocSection) FinalizeSectionSize() {
	o.Section.Size = uint64(o.EntryCount()) * uint64(RelSize)
}
