package linker

import "encoding/binary"

// Context catalogues what the reader decoded out of one input: its
// section table, its symbol occurrences, and the byte order the file
// was encoded at.
type Context struct {
	Order    binary.ByteOrder
	Sections []*LDSection
	Symbols  []*LDSymbol

	SymTab      *LDSection
	FirstGlobal uint32

	// raw decode results kept until the merge phases consume them
	ElfSyms   []Sym
	SymStrTab []byte
}

func NewContext() *Context {
	return &Context{Order: binary.LittleEndian}
}

func (c *Context) SectionByName(name string) *LDSection {
	for _, sect := range c.Sections {
		if sect != nil && sect.Name == name {
			return sect
		}
	}
	return nil
}

func (c *Context) SectionByType(typ uint32) *LDSection {
	for _, sect := range c.Sections {
		if sect != nil && sect.Type == typ {
			return sect
		}
	}
	return nil
}
