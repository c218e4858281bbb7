package linker

import (
	"strings"

	"github.com/pkg/errors"
)

// SectionMap maps input section-name prefixes to canonical output
// section names. Order matters: the first matching prefix wins, so
// the standard table lists the more specific prefixes first.
type SectionMap struct {
	pairs []namePair
	seen  map[string]bool
}

type namePair struct {
	from string
	to   string
}

func NewSectionMap() *SectionMap {
	return &SectionMap{seen: make(map[string]bool)}
}

// Append registers a pair; exist reports a duplicate from-prefix.
func (m *SectionMap) Append(from, to string) (exist bool) {
	if m.seen[from] {
		return true
	}
	m.seen[from] = true
	m.pairs = append(m.pairs, namePair{from: from, to: to})
	return false
}

// MapName rewrites an input section name to its output section name.
// Unmatched names map to themselves.
func (m *SectionMap) MapName(input string) string {
	for _, pair := range m.pairs {
		if strings.HasPrefix(input, pair.from) {
			return pair.to
		}
	}
	return input
}

// standardMap is applied only when producing non-object outputs.
var standardMap = []namePair{
	{".text", ".text"},
	{".rodata", ".rodata"},
	{".data.rel.ro.local", ".data.rel.ro.local"},
	{".data.rel.ro", ".data.rel.ro"},
	{".data", ".data"},
	{".bss", ".bss"},
	{".tdata", ".tdata"},
	{".tbss", ".tbss"},
	{".init_array", ".init_array"},
	{".fini_array", ".fini_array"},
	{".ctors", ".ctors"},
	{".dtors", ".dtors"},
	{".sdata2", ".sdata"},
	{".sbss2", ".sbss"},
	{".sdata", ".sdata"},
	{".sbss", ".sbss"},
	{".lrodata", ".lrodata"},
	{".ldata", ".ldata"},
	{".lbss", ".lbss"},
	{".gcc_except_table", ".gcc_except_table"},
	{".gnu.linkonce.d.rel.ro.local", ".data.rel.ro.local"},
	{".gnu.linkonce.d.rel.ro", ".data.rel.ro"},
	{".gnu.linkonce.r", ".rodata"},
	{".gnu.linkonce.d", ".data"},
	{".gnu.linkonce.b", ".bss"},
	{".gnu.linkonce.sb2", ".sbss"},
	{".gnu.linkonce.sb", ".sbss"},
	{".gnu.linkonce.s2", ".sdata"},
	{".gnu.linkonce.s", ".sdata"},
	{".gnu.linkonce.wi", ".debug_info"},
	{".gnu.linkonce.td", ".tdata"},
	{".gnu.linkonce.tb", ".tbss"},
	{".gnu.linkonce.t", ".text"},
	{".gnu.linkonce.lr", ".lrodata"},
	{".gnu.linkonce.lb", ".lbss"},
	{".gnu.linkonce.l", ".ldata"},
}

// SetupStandardMap installs the emulation table; a duplicate aborts
// emulation setup.
func SetupStandardMap(m *SectionMap) error {
	for _, pair := range standardMap {
		if exist := m.Append(pair.from, pair.to); exist {
			return errors.Errorf("duplicate section map entry %q", pair.from)
		}
	}
	return nil
}
