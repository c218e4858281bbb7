package linker

// SymbolCategory keeps output symbols bucketed in emission order:
// File, Local, TLS, Common, Global. Name-pool emission walks the
// buckets in that order so locals land before globals in .symtab.
type SymbolCategory struct {
	File   []*LDSymbol
	Local  []*LDSymbol
	TLS    []*LDSymbol
	Common []*LDSymbol
	Global []*LDSymbol
}

func NewSymbolCategory() *SymbolCategory {
	return &SymbolCategory{}
}

func (c *SymbolCategory) Add(sym *LDSymbol) {
	info := sym.Info
	switch {
	case info.Type == TypeFile:
		c.File = append(c.File, sym)
	case info.Type == TypeThreadLocal:
		c.TLS = append(c.TLS, sym)
	case info.IsCommon():
		c.Common = append(c.Common, sym)
	case info.IsLocal():
		c.Local = append(c.Local, sym)
	default:
		c.Global = append(c.Global, sym)
	}
}

// NumOfLocals counts the symbols emitted before the first global:
// the File and Local buckets.
func (c *SymbolCategory) NumOfLocals() int {
	return len(c.File) + len(c.Local)
}

// ForEach visits every symbol in category order.
func (c *SymbolCategory) ForEach(visit func(*LDSymbol)) {
	for _, bucket := range [][]*LDSymbol{c.File, c.Local, c.TLS, c.Common, c.Global} {
		for _, sym := range bucket {
			visit(sym)
		}
	}
}

// ChangeCommonsToGlobal moves the Common bucket into Global after
// common allocation turned them into definitions.
func (c *SymbolCategory) ChangeCommonsToGlobal() {
	c.Global = append(c.Global, c.Common...)
	c.Common = nil
}

func (c *SymbolCategory) EmptyCommons() bool {
	return len(c.Common) == 0
}

func (c *SymbolCategory) Total() int {
	return len(c.File) + len(c.Local) + len(c.TLS) + len(c.Common) + len(c.Global)
}
