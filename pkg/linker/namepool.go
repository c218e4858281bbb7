package linker

// NamePool interns one ResolveInfo per symbol name across the whole
// program and applies the ELF resolution rules when a new occurrence
// of a name arrives.
type NamePool struct {
	pool  map[string]*ResolveInfo
	order []*ResolveInfo
}

func NewNamePool() *NamePool {
	return &NamePool{pool: make(map[string]*ResolveInfo)}
}

// Insert interns name without resolving.
func (p *NamePool) Insert(name string) (*ResolveInfo, bool) {
	if info, ok := p.pool[name]; ok {
		return info, true
	}
	info := NewResolveInfo(name)
	p.pool[name] = info
	p.order = append(p.order, info)
	return info, false
}

func (p *NamePool) Find(name string) *ResolveInfo {
	return p.pool[name]
}

func (p *NamePool) Size() int {
	return len(p.order)
}

// ForEach visits infos in insertion order.
func (p *NamePool) ForEach(visit func(*ResolveInfo)) {
	for _, info := range p.order {
		visit(info)
	}
}

type ResolveAction int

const (
	ResolveSuccess  ResolveAction = iota // existing record stands
	ResolveOverride                      // new occurrence replaces it
	ResolveAbort                         // multiply-defined
)

// Occurrence is one sighting of a symbol in an input.
type Occurrence struct {
	Name    string
	Binding Binding
	Vis     Visibility
	Type    SymType
	Desc    Desc
	Size    uint64
	Value   uint64
	FromDyn bool
}

// Resolve absorbs occ into the pool. Visibility always merges to the
// stricter of the two. The returned action tells the caller whether the
// existing record stands, was overridden, or the link must abort with a
// multiple-definition error.
func (p *NamePool) Resolve(occ Occurrence) (*ResolveInfo, ResolveAction) {
	old, exist := p.pool[occ.Name]
	if !exist {
		old = NewResolveInfo(occ.Name)
		p.pool[occ.Name] = old
		p.order = append(p.order, old)
		applyOccurrence(old, occ)
		old.Vis = occ.Vis
		return old, ResolveOverride
	}

	action := decide(old, occ)
	switch action {
	case ResolveOverride:
		applyOccurrence(old, occ)
	case ResolveSuccess:
		// common vs common keeps the larger size and the stricter
		// alignment (commons carry alignment in st_value)
		if old.IsCommon() && occ.Desc == DescCommon {
			if occ.Size > old.Size {
				old.Size = occ.Size
			}
			if occ.Value > old.Value {
				old.Value = occ.Value
			}
		}
		// an undefined weak reference is strengthened by a global one
		if old.IsUndef() && old.IsWeak() && occ.Desc == DescUndefined &&
			occ.Binding == BindGlobal {
			old.Binding = BindGlobal
		}
	}
	old.Vis = StricterVisibility(old.Vis, occ.Vis)
	return old, action
}

func applyOccurrence(info *ResolveInfo, occ Occurrence) {
	info.Binding = occ.Binding
	info.Type = occ.Type
	info.Desc = occ.Desc
	info.Size = occ.Size
	info.Value = occ.Value
	info.Dyn = occ.FromDyn
}

// decide implements the ELF resolution outcome between the existing
// record and a new occurrence.
func decide(old *ResolveInfo, occ Occurrence) ResolveAction {
	newDefined := occ.Desc == DescDefine
	newCommon := occ.Desc == DescCommon

	// Undefined vs anything defined: the definition wins.
	if old.IsUndef() {
		if newDefined || newCommon {
			return ResolveOverride
		}
		// both undefined; prefer a non-dyn record over a dyn one
		if old.IsDyn() && !occ.FromDyn {
			return ResolveOverride
		}
		return ResolveSuccess
	}

	if occ.Desc == DescUndefined {
		return ResolveSuccess
	}

	// A DynObj definition never overrides a regular definition.
	if occ.FromDyn {
		return ResolveSuccess
	}
	if old.IsDyn() {
		return ResolveOverride
	}

	// Common interactions.
	if old.IsCommon() {
		if newCommon {
			return ResolveSuccess // sizes merged by the caller
		}
		// defined wins over common; common's size is discarded
		return ResolveOverride
	}
	if newCommon {
		return ResolveSuccess
	}

	// Both are real definitions now.
	oldWeak := old.IsWeak()
	newWeak := occ.Binding == BindWeak
	switch {
	case oldWeak && !newWeak:
		return ResolveOverride
	case !oldWeak && newWeak:
		return ResolveSuccess
	case oldWeak && newWeak:
		return ResolveSuccess
	}
	return ResolveAbort
}
