package linker

import (
	"debug/elf"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/syfchao/mclinker/pkg/diag"
	"github.com/syfchao/mclinker/pkg/utils"
)

// Driver orders the link pipeline. Each phase observes the complete
// output of its predecessor; the whole core is single-threaded.
type Driver struct {
	cfg     *Config
	m       *Module
	backend Backend
	reader  *Reader
	linker  *Linker
	d       *diag.Engine
	fs      afero.Fs
	log     *zap.Logger
}

func NewDriver(cfg *Config, m *Module, backend Backend, fs afero.Fs, d *diag.Engine) *Driver {
	return &Driver{
		cfg:     cfg,
		m:       m,
		backend: backend,
		reader:  NewReader(backend.Machine(), d),
		d:       d,
		fs:      fs,
		log:     d.Logger(),
	}
}

func (dr *Driver) Module() *Module { return dr.m }
func (dr *Driver) Linker() *Linker { return dr.linker }

// Link runs every phase in order.
func (dr *Driver) Link() error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"linkable", dr.Linkable},
		{"initMCLinker", dr.InitMCLinker},
		{"readSections", dr.ReadSections},
		{"readSymbolTables", dr.ReadSymbolTables},
		{"mergeSections", dr.MergeSections},
		{"mergeSymbolTables", dr.MergeSymbolTables},
		{"addStandardSymbols", dr.AddStandardSymbols},
		{"addTargetSymbols", dr.AddTargetSymbols},
		{"readRelocations", dr.ReadRelocations},
		{"layout", dr.Layout},
		{"relocate", dr.Relocate},
		{"emitOutput", dr.EmitOutput},
	}
	for _, step := range steps {
		dr.log.Debug("phase", zap.String("name", step.name))
		if err := step.run(); err != nil {
			return errors.Wrap(err, step.name)
		}
	}
	return nil
}

// Linkable verifies input-attribute constraints before anything is
// read.
func (dr *Driver) Linkable() error {
	for _, in := range append(append([]*Input{}, dr.m.Inputs...), dr.m.Libs...) {
		if in.Attr == nil {
			return dr.d.Errorf(diag.InvalidAttribute, "%s has no attribute", in.Path)
		}
		if in.Attr.AsNeeded && !in.Attr.AddNeeded {
			return dr.d.Errorf(diag.InvalidAttribute,
				"%s: --as-needed conflicts with --no-add-needed", in.Path)
		}
	}
	return nil
}

// InitMCLinker wires backend, resolver and emulation.
func (dr *Driver) InitMCLinker() error {
	dr.linker = NewLinker(dr.cfg, dr.m, dr.d)
	if !dr.cfg.IsObject() {
		if err := SetupStandardMap(dr.m.SectionMap); err != nil {
			return err
		}
	}
	dr.backend.InitTargetSections(dr.m)
	return nil
}

// ReadSections verifies and decodes every input's structure.
func (dr *Driver) ReadSections() error {
	for _, in := range dr.m.Inputs {
		if err := dr.readOne(in); err != nil {
			return err
		}
	}
	for _, lib := range dr.m.Libs {
		if err := dr.readOne(lib); err != nil {
			return err
		}
		if _, err := dr.reader.ReadDynamic(lib); err != nil {
			return err
		}
	}
	return nil
}

func (dr *Driver) readOne(in *Input) error {
	if err := dr.reader.VerifyFile(in); err != nil {
		return err
	}
	ehdr, err := dr.reader.ReadHeader(in)
	if err != nil {
		return err
	}
	return dr.reader.ReadSectionHeaders(in, &ehdr)
}

func (dr *Driver) ReadSymbolTables() error {
	for _, in := range dr.m.Inputs {
		if err := dr.reader.ReadSymbolTable(in); err != nil {
			return err
		}
	}
	for _, lib := range dr.m.Libs {
		if err := dr.reader.ReadSymbolTable(lib); err != nil {
			return err
		}
	}
	return nil
}

// MergeSections places each live input section's bytes into its output
// section, applying the emulation name map for non-object outputs.
func (dr *Driver) MergeSections() error {
	for _, in := range dr.m.Inputs {
		for _, sect := range in.Context.Sections {
			if sect == nil || !mergeableKind(sect.Kind) {
				continue
			}
			name := sect.Name
			if !dr.cfg.IsObject() {
				name = dr.m.SectionMap.MapName(name)
			}
			out := dr.m.GetOutputSection(name, sect.Kind, sect.Type, sect.Flags)
			if sect.Align > out.Align {
				out.Align = sect.Align
			}

			var frag *Fragment
			if sect.Kind == SectionBSS {
				frag = NewFillFragment(0, 1, sect.Size)
			} else {
				bytes, err := dr.reader.sectionBytes(in, sect)
				if err != nil {
					return err
				}
				frag = &Fragment{Kind: FragRegion, Data: bytes}
			}
			out.GetSectionData().Append(frag, sect.Align)
			sect.OutSection = out
			sect.OutFragment = frag
		}
	}
	return nil
}

func mergeableKind(kind SectionKind) bool {
	switch kind {
	case SectionRegular, SectionBSS, SectionNote, SectionTarget:
		return true
	}
	return false
}

// MergeSymbolTables resolves every input occurrence into the
// program-wide pool.
func (dr *Driver) MergeSymbolTables() error {
	for _, in := range dr.m.Inputs {
		if err := dr.mergeOneSymbolTable(in, false); err != nil {
			return err
		}
	}
	for _, lib := range dr.m.Libs {
		if err := dr.mergeOneSymbolTable(lib, true); err != nil {
			return err
		}
	}

	// globals enter the category table once, in pool order
	dr.m.NamePool.ForEach(func(info *ResolveInfo) {
		if info.OutSymbol != nil {
			dr.m.Symbols.Add(info.OutSymbol)
		}
	})

	// a non-weak reference no definition satisfied is an error
	var undef error
	dr.m.NamePool.ForEach(func(info *ResolveInfo) {
		if info.IsUndef() && !info.IsDyn() && !info.IsWeak() {
			undef = multierror.Append(undef,
				dr.d.Errorf(diag.UndefinedReference, "%s", info.Name))
		}
	})
	return undef
}

func (dr *Driver) mergeOneSymbolTable(in *Input, fromDyn bool) error {
	ctx := in.Context
	ctx.Symbols = make([]*LDSymbol, len(ctx.ElfSyms))
	for i, esym := range ctx.ElfSyms {
		if i == 0 {
			continue
		}
		name := ElfGetName(ctx.SymStrTab, esym.Name)
		local := uint32(i) < ctx.FirstGlobal

		if local && !fromDyn {
			info := NewResolveInfo(name)
			info.Binding = BindingFromSym(&esym)
			info.Type = SymType(esym.Type())
			info.Desc = DescFromShndx(esym.Shndx)
			info.Vis = Visibility(esym.Other & 0x3)
			info.Size = uint64(esym.Size)
			sym := dr.buildSymbol(in, info, &esym)
			info.OutSymbol = sym
			ctx.Symbols[i] = sym
			if info.Type != TypeSection {
				dr.m.Symbols.Add(sym)
			}
			continue
		}

		occ := Occurrence{
			Name:    name,
			Binding: BindingFromSym(&esym),
			Vis:     Visibility(esym.Other & 0x3),
			Type:    SymType(esym.Type()),
			Desc:    DescFromShndx(esym.Shndx),
			Size:    uint64(esym.Size),
			Value:   uint64(esym.Value),
			FromDyn: fromDyn,
		}
		// a DynObj definition satisfies a reference only when an
		// undefined record is already waiting for it
		satisfies := false
		if fromDyn && !esym.IsUndef() {
			prev := dr.m.NamePool.Find(name)
			satisfies = prev != nil && prev.IsUndef()
		}
		info, action := dr.m.NamePool.Resolve(occ)
		switch action {
		case ResolveAbort:
			return dr.d.Errorf(diag.MultipleDefinition, "%s", name)
		case ResolveOverride:
			if !fromDyn || esym.IsUndef() {
				sym := dr.buildSymbol(in, info, &esym)
				info.OutSymbol = sym
				ctx.Symbols[i] = sym
			} else {
				// a DynObj definition satisfies references but
				// contributes no fragment
				info.Value = uint64(esym.Value)
			}
			if satisfies {
				in.Needed = true
			}
		case ResolveSuccess:
			ctx.Symbols[i] = info.OutSymbol
		}
		if ctx.Symbols[i] == nil {
			sym := NewLDSymbol(info)
			sym.Value = info.Value
			ctx.Symbols[i] = sym
		}
	}
	return nil
}

// buildSymbol binds an occurrence onto the fragment its defining
// section merged into.
func (dr *Driver) buildSymbol(in *Input, info *ResolveInfo, esym *Sym) *LDSymbol {
	sym := NewLDSymbol(info)
	sym.Value = uint64(esym.Value)
	sym.Size = uint64(esym.Size)
	sym.Shndx = esym.Shndx
	if !esym.IsAbs() && !esym.IsUndef() && !esym.IsCommon() {
		if int(esym.Shndx) < len(in.Context.Sections) {
			sect := in.Context.Sections[esym.Shndx]
			if sect != nil && sect.OutFragment != nil {
				sym.FragRef = NewFragmentRef(sect.OutFragment, 0)
			}
		}
	}
	return sym
}

// AddStandardSymbols defines the section-boundary symbols every
// executable and shared object carries. Collision with a user
// definition is refused.
func (dr *Driver) AddStandardSymbols() error {
	if dr.cfg.IsObject() {
		return nil
	}
	for _, name := range []string{"__bss_start", "_edata", "_end"} {
		if dr.linker.CheckReservedName(name) {
			return dr.d.Errorf(diag.ReservedNameCollision, "%s", name)
		}
		dr.linker.DefineSymbol(name, TypeNoType, DescDefine, BindAbsolute,
			0, 0, VisDefault, nil)
	}
	return nil
}

func (dr *Driver) AddTargetSymbols() error {
	dr.backend.InitTargetSymbols(dr.linker)
	return nil
}

// ReadRelocations realizes every input relocation section into an
// in-memory list, then runs the backend's scan pass over each site.
func (dr *Driver) ReadRelocations() error {
	for _, in := range dr.m.Inputs {
		for _, sect := range in.Context.Sections {
			if sect == nil || sect.Kind != SectionRelocation {
				continue
			}
			target := sect.Link
			if target == nil || target.OutFragment == nil {
				continue
			}
			bytes, err := dr.reader.sectionBytes(in, sect)
			if err != nil {
				return err
			}
			rels := utils.ReadSlice[Rel](in.Context.Order, bytes, RelSize)
			rs := &RelocSection{Section: sect, Target: target}
			for _, rel := range rels {
				if int(rel.SymIndex()) >= len(in.Context.Symbols) {
					return dr.d.Errorf(diag.SectionOutOfRange,
						"%s: relocation symbol index %d", in.Path, rel.SymIndex())
				}
				sym := in.Context.Symbols[rel.SymIndex()]
				var info *ResolveInfo
				if sym != nil {
					info = sym.Info
				}
				reloc := NewRelocation(rel.Type(), info,
					NewFragmentRef(target.OutFragment, uint64(rel.Offset)), 0)
				rs.Relocs = append(rs.Relocs, reloc)
			}
			dr.m.RelocSections = append(dr.m.RelocSections, rs)
		}
	}

	// scan pass: decide reservations before layout; a relocatable
	// output keeps its relocations as-is
	if dr.cfg.IsObject() {
		return nil
	}
	for _, rs := range dr.m.RelocSections {
		for _, reloc := range rs.Relocs {
			dr.backend.ScanRelocation(reloc, dr.linker, dr.m, rs.Target)
		}
	}
	return nil
}

// allocateCommonSymbols turns every surviving Common into a definition
// backed by a fill fragment in .bss.
func (dr *Driver) allocateCommonSymbols() error {
	// a thread-local common is bucketed as TLS, not among the commons
	for _, sym := range dr.m.Symbols.TLS {
		if sym.Info.IsCommon() {
			return dr.d.Errorf(diag.CommonTLSUnsupported, "%s", sym.Info.Name)
		}
	}
	if len(dr.m.Symbols.Common) == 0 {
		return nil
	}
	bss := dr.m.GetOutputSection(".bss", SectionBSS,
		uint32(elf.SHT_NOBITS), uint32(elf.SHF_ALLOC|elf.SHF_WRITE))
	data := bss.GetSectionData()
	for _, sym := range dr.m.Symbols.Common {
		info := sym.Info
		if info.Type == TypeThreadLocal {
			return dr.d.Errorf(diag.CommonTLSUnsupported, "%s", info.Name)
		}
		align := info.Value // commons carry alignment in st_value
		if align == 0 {
			align = 1
		}
		frag := NewFillFragment(0, 1, info.Size)
		data.Append(frag, align)
		info.Desc = DescDefine
		sym.Value = 0
		sym.Size = info.Size
		sym.FragRef = NewFragmentRef(frag, 0)
		info.OutSymbol = sym
	}
	dr.m.Symbols.ChangeCommonsToGlobal()
	return nil
}

// Layout assigns output addresses and file offsets. No instruction
// relaxation happens here or anywhere.
func (dr *Driver) Layout() error {
	if err := dr.allocateCommonSymbols(); err != nil {
		return err
	}
	dr.backend.PreLayout(dr.linker)
	layoutSections(dr.cfg, dr.m, dr.backend)
	dr.finalizeStandardSymbols()
	dr.backend.FinalizeTargetSymbols(dr.linker)
	return nil
}

func (dr *Driver) finalizeStandardSymbols() {
	if dr.cfg.IsObject() {
		return
	}
	var dataEnd, bssStart, bssEnd uint64
	for _, sect := range dr.m.OutputSections {
		if !sect.IsAlloc() || sect.Size == 0 {
			continue
		}
		end := sect.Addr + sect.Size
		if sect.Type == uint32(elf.SHT_NOBITS) {
			if bssStart == 0 || sect.Addr < bssStart {
				bssStart = sect.Addr
			}
			if end > bssEnd {
				bssEnd = end
			}
		} else if end > dataEnd {
			dataEnd = end
		}
	}
	if bssStart == 0 {
		bssStart = dataEnd
	}
	if bssEnd < bssStart {
		bssEnd = bssStart
	}
	set := func(name string, val uint64) {
		if info := dr.m.NamePool.Find(name); info != nil && info.OutSymbol != nil {
			info.OutSymbol.Value = val
			info.Value = val
		}
	}
	set("__bss_start", bssStart)
	set("_edata", dataEnd)
	set("_end", bssEnd)
}

// Relocate applies every input relocation. The relocator decides what
// is fatal; accumulated errors terminate the link here.
func (dr *Driver) Relocate() error {
	if dr.cfg.IsObject() {
		return nil
	}
	var errs error
	relocator := dr.backend.Relocator()
	for _, rs := range dr.m.RelocSections {
		if err := relocator.ApplyAll(rs); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	dr.backend.PostRelocate(dr.linker)
	return nil
}

// EmitOutput writes the ELF image.
func (dr *Driver) EmitOutput() error {
	w := NewWriter(dr.cfg, dr.m, dr.backend, dr.linker, dr.d)
	image, err := w.Build()
	if err != nil {
		return err
	}
	return afero.WriteFile(dr.fs, dr.cfg.OutputPath, image, 0755)
}
