package linker

import (
	"github.com/syfchao/mclinker/pkg/diag"
)

// Backend owns the output's structural shape for one architecture:
// the GOT, the PLT, the dynamic relocation sections and the relocation
// policy applied during the scan pass.
type Backend interface {
	Machine() uint16
	Flags() uint32
	DefaultTextSegmentAddr() uint64
	ABIPageSize() uint64

	// InitTargetSections creates .got, .plt (if applicable), .rel.dyn
	// and .rel.plt on the module.
	InitTargetSections(m *Module)

	// InitTargetSymbols defines the architecture-fixed symbols.
	InitTargetSymbols(l *Linker)

	// ScanRelocation runs once per input relocation before layout and
	// records every output reservation the site induces.
	ScanRelocation(reloc *Relocation, l *Linker, m *Module, sect *LDSection)

	// PreLayout freezes target-section sizes once scanning is done.
	PreLayout(l *Linker)

	// FinalizeTargetSymbols sets values that need post-layout
	// addresses.
	FinalizeTargetSymbols(l *Linker)

	// PostRelocate fills target-section content that depends on every
	// other address: PLT stubs, GOTPLT lazy slots.
	PostRelocate(l *Linker)

	Relocator() Relocator
	Base() *GNUBackend
}

// GNUBackend carries the target-independent half of a backend: the
// output tables, the dynamic section and the text-relocation flag.
type GNUBackend struct {
	Diag *diag.Engine

	GOT    *GOT
	PLT    *PLT
	RelDyn *OutputRelocSection
	RelPLT *OutputRelocSection
	Dyn    *ELFDynamic

	GOTSymbol  *LDSymbol
	HasTextRel bool

	HashSect    *LDSection
	DynSymSect  *LDSection
	DynStrSect  *LDSection
	DynamicSect *LDSection

	DynSymbols []*LDSymbol
	dynIndex   map[*ResolveInfo]uint32
}

func NewGNUBackend(d *diag.Engine) *GNUBackend {
	return &GNUBackend{Diag: d, Dyn: NewELFDynamic()}
}

// CheckAndSetHasTextRel flips DF_TEXTREL when a dynamic relocation
// landed in a non-writable section.
func (b *GNUBackend) CheckAndSetHasTextRel(sect *LDSection) {
	if !sect.IsWritable() {
		b.HasTextRel = true
		b.Dyn.SetFlags(DF_TEXTREL)
	}
}

// Linker wires symbol definition and preemption policy for the
// backends; it is the per-invocation object graph's front door.
type Linker struct {
	cfg *Config
	m   *Module
	d   *diag.Engine
}

func NewLinker(cfg *Config, m *Module, d *diag.Engine) *Linker {
	return &Linker{cfg: cfg, m: m, d: d}
}

func (l *Linker) Config() *Config    { return l.cfg }
func (l *Linker) Module() *Module    { return l.m }
func (l *Linker) Diag() *diag.Engine { return l.d }

// DefineSymbol force-defines name in the pool, as the backends do for
// reserved symbols. The caller must have checked collisions through
// CheckReservedName.
func (l *Linker) DefineSymbol(name string, typ SymType, desc Desc, binding Binding,
	size, value uint64, vis Visibility, ref *FragmentRef) *LDSymbol {
	info, _ := l.m.NamePool.Insert(name)
	info.Type = typ
	info.Desc = desc
	info.Binding = binding
	info.Size = size
	info.Value = value
	info.Vis = vis

	// reuse the occurrence merge already catalogued, if any
	sym := info.OutSymbol
	if sym == nil {
		sym = NewLDSymbol(info)
		info.OutSymbol = sym
		l.m.Symbols.Add(sym)
	}
	sym.Info = info
	sym.Value = value
	sym.Size = size
	sym.FragRef = ref
	return sym
}

// CheckReservedName reports whether a user input already defined name.
func (l *Linker) CheckReservedName(name string) bool {
	info := l.m.NamePool.Find(name)
	return info != nil && info.IsDefine() && !info.IsDyn()
}

// IsSymbolPreemptible: the output is a DynObj and the symbol's
// visibility lets another object take it over at load time.
func (l *Linker) IsSymbolPreemptible(info *ResolveInfo) bool {
	if !l.cfg.IsDynObj() {
		return false
	}
	if info.IsLocal() || info.IsAbsolute() {
		return false
	}
	return info.Vis == VisDefault || info.Vis == VisProtected
}

// IsDynamicSymbol: the symbol belongs in .dynsym.
func (l *Linker) IsDynamicSymbol(info *ResolveInfo) bool {
	if l.cfg.IsObject() {
		return false
	}
	if info.IsLocal() || info.Type == TypeFile || info.Type == TypeSection {
		return false
	}
	if info.IsDyn() {
		return true
	}
	if l.cfg.IsDynObj() {
		return info.Vis == VisDefault || info.Vis == VisProtected
	}
	// an executable exports none of its own definitions; only references
	// still undefined go to .dynsym
	return info.IsUndef()
}

// SymbolNeedsDynRel decides whether a reference must go through a
// dynamic relocation instead of static patching.
func (l *Linker) SymbolNeedsDynRel(info *ResolveInfo, isAbsReloc bool) bool {
	if info.IsAbsolute() {
		return false
	}
	if l.cfg.IsDynObj() && isAbsReloc {
		return true
	}
	if info.IsDyn() && info.IsUndef() {
		return true
	}
	return l.IsSymbolPreemptible(info)
}

// UseRelativeReloc: a dynamic relocation against this symbol may be a
// R_*_RELATIVE with a null symbol.
func (l *Linker) UseRelativeReloc(info *ResolveInfo) bool {
	if info.IsDyn() || info.IsUndef() {
		return false
	}
	return !l.IsSymbolPreemptible(info)
}
