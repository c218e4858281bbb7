package linker

import (
	"github.com/syfchao/mclinker/pkg/utils"
)

// PLT owns the .plt output section: the PLT0 lead-in stub, one code
// stub per symbol, and a paired GOTPLT slot for each stub. GOTPLT
// slots are ordinary .got entries, handed out in the same order as the
// other GOT entries.
type PLT struct {
	Section *LDSection
	Data    *SectionData
	got     *GOT

	entries       map[*ResolveInfo]*Fragment
	gotPLTEntries map[*ResolveInfo]*Fragment
	order         []*ResolveInfo
	reserved      int

	plt0Size  uint64
	entrySize uint64
}

func NewPLT(section *LDSection, got *GOT, plt0Size, entrySize uint64) *PLT {
	p := &PLT{
		Section:       section,
		Data:          section.GetSectionData(),
		got:           got,
		entries:       make(map[*ResolveInfo]*Fragment),
		gotPLTEntries: make(map[*ResolveInfo]*Fragment),
		plt0Size:      plt0Size,
		entrySize:     entrySize,
	}
	p.Section.Align = 4
	p.Data.Append(NewTargetFragment(plt0Size), 4)
	return p
}

// Reserve adds one future stub and its GOTPLT slot.
func (p *PLT) Reserve(num int) {
	p.reserved += num
	p.got.Reserve(num)
}

// GetEntry returns the symbol's stub fragment, allocating on first use.
func (p *PLT) GetEntry(sym *ResolveInfo) (entry *Fragment, exist bool) {
	if entry, exist = p.entries[sym]; exist {
		return entry, true
	}
	utils.Assert(p.reserved > 0)
	p.reserved--
	entry = NewTargetFragment(p.entrySize)
	p.Data.Append(entry, 4)
	p.entries[sym] = entry
	p.order = append(p.order, sym)
	return entry, false
}

// ForEachEntry visits allocated stubs in allocation order.
func (p *PLT) ForEachEntry(visit func(sym *ResolveInfo, stub *Fragment)) {
	for _, sym := range p.order {
		visit(sym, p.entries[sym])
	}
}

// GetGOTPLTEntry returns the GOTPLT slot paired with the symbol's stub.
func (p *PLT) GetGOTPLTEntry(sym *ResolveInfo) (entry *Fragment, exist bool) {
	if entry, exist = p.gotPLTEntries[sym]; exist {
		return entry, true
	}
	entry, _ = p.got.GetEntry(sym)
	p.gotPLTEntries[sym] = entry
	return entry, false
}

func (p *PLT) EntryCount() int {
	return len(p.entries) + p.reserved
}

func (p *PLT) HasEntries() bool {
	return p.EntryCount() > 0
}

func (p *PLT) FinalizeSectionSize() {
	p.Section.Size = p.plt0Size + uint64(p.EntryCount())*p.entrySize
}
