package linker

// OutputType selects what the link produces.
type OutputType int

const (
	OutputObject OutputType = iota
	OutputDynObj
	OutputExec
)

// Config is the per-invocation setup the driver runs with.
type Config struct {
	OutputType OutputType
	OutputPath string
	Entry      string
	SOName     string
	Machine    uint16
	SearchDirs []string
}

func NewConfig() *Config {
	return &Config{OutputPath: "a.out", Entry: "_start"}
}

func (c *Config) IsDynObj() bool { return c.OutputType == OutputDynObj }
func (c *Config) IsExec() bool   { return c.OutputType == OutputExec }
func (c *Config) IsObject() bool { return c.OutputType == OutputObject }

// Module is the linker's view of the output under construction.
type Module struct {
	Name string

	Inputs []*Input // relocatable objects, in link order
	Libs   []*Input // shared objects

	OutputSections []*LDSection
	sectionIndex   map[string]*LDSection

	SectionMap    *SectionMap
	NamePool      *NamePool
	Symbols       *SymbolCategory
	RelocSections []*RelocSection
}

func NewModule(name string) *Module {
	return &Module{
		Name:         name,
		sectionIndex: make(map[string]*LDSection),
		SectionMap:   NewSectionMap(),
		NamePool:     NewNamePool(),
		Symbols:      NewSymbolCategory(),
	}
}

// GetOutputSection finds or creates the named output section.
func (m *Module) GetOutputSection(name string, kind SectionKind, typ, flags uint32) *LDSection {
	if sect, ok := m.sectionIndex[name]; ok {
		sect.Flags |= flags
		return sect
	}
	sect := NewLDSection(name, kind, typ, flags)
	m.OutputSections = append(m.OutputSections, sect)
	m.sectionIndex[name] = sect
	return sect
}

func (m *Module) FindOutputSection(name string) *LDSection {
	return m.sectionIndex[name]
}
