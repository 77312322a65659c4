package sqlgraph

import (
	"strings"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/mapping"
)

// Walk is the result of walking the association graph from a root entity
// or collection: the joins to fetch in one statement, in join order.
type Walk struct {
	// Entity is the root entity of an entity walk.
	Entity *mapping.Entity
	// Collection is the root collection of a collection walk.
	Collection *mapping.Collection
	// Alias is the table alias of the root.
	Alias string
	// Associations are the planned joins.
	Associations []*Association
}

// JoinTypes returns the join types used by the walk.
func (w *Walk) JoinTypes() []JoinType {
	var used [2]bool
	for _, a := range w.Associations {
		used[a.JoinType] = true
	}
	var types []JoinType
	for t, ok := range used {
		if ok {
			types = append(types, JoinType(t))
		}
	}
	return types
}

// HasCollectionJoins reports whether any collection is joined.
func (w *Walk) HasCollectionJoins() bool {
	for _, a := range w.Associations {
		if a.IsCollection() {
			return true
		}
	}
	return false
}

// WalkOption configures a walk.
type WalkOption func(*walker)

// WithMaxDepth limits the depth of joined associations. A negative depth
// means no limit.
func WithMaxDepth(depth int) WalkOption {
	return func(w *walker) {
		w.maxDepth = depth
	}
}

// WithInfluencers sets the enabled filters and fetch profiles.
func WithInfluencers(inf *mapping.Influencers) WalkOption {
	return func(w *walker) {
		w.influencers = inf
	}
}

// WithSingleCollectionFetch stops joining collections once one collection
// is joined.
func WithSingleCollectionFetch(enabled bool) WalkOption {
	return func(w *walker) {
		w.singleCollection = enabled
	}
}

// WithLockMode sets the lock mode of the statement. Nothing is joined
// when rows are locked pessimistically.
func WithLockMode(mode fetchgraph.LockMode) WalkOption {
	return func(w *walker) {
		w.lockMode = mode
	}
}

// WithJoinClause adds a condition to the join of the association at path.
// The condition refers to the joined table as {alias}.
func WithJoinClause(path, cond string, args ...any) WalkOption {
	return func(w *walker) {
		if w.joinClauses == nil {
			w.joinClauses = make(map[string]joinClause)
		}
		w.joinClauses[path] = joinClause{cond: cond, args: args}
	}
}

// WithConfig applies the fetch depth and collection settings of cfg.
func WithConfig(cfg *fetchgraph.Config) WalkOption {
	return func(w *walker) {
		w.maxDepth = cfg.MaxFetchDepth
		w.singleCollection = cfg.SingleCollectionFetch
	}
}

type joinClause struct {
	cond string
	args []any
}

type walker struct {
	reg              *mapping.Registry
	maxDepth         int
	influencers      *mapping.Influencers
	singleCollection bool
	lockMode         fetchgraph.LockMode
	joinClauses      map[string]joinClause
	rootCollection   bool
	associations     []*Association
	visited          map[AssociationKey]struct{}
}

func newWalker(reg *mapping.Registry, opts []WalkOption) *walker {
	w := &walker{
		reg:              reg,
		maxDepth:         -1,
		singleCollection: true,
		visited:          make(map[AssociationKey]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WalkEntity plans the joins of a statement loading entity e under alias.
func WalkEntity(reg *mapping.Registry, e *mapping.Entity, alias string, opts ...WalkOption) (*Walk, error) {
	w := newWalker(reg, opts)
	if err := w.walkEntityTree(e, alias, "", 0); err != nil {
		return nil, err
	}
	return &Walk{Entity: e, Alias: alias, Associations: w.associations}, nil
}

// WalkCollection plans the joins of a statement loading collection c
// under alias.
func WalkCollection(reg *mapping.Registry, c *mapping.Collection, alias string, opts ...WalkOption) (*Walk, error) {
	w := newWalker(reg, opts)
	w.rootCollection = true
	// The collection is never joined to itself.
	w.visited[NewAssociationKey(c.Table, c.KeyColumns)] = struct{}{}
	if err := w.walkCollectionTree(c, alias, "", 0); err != nil {
		return nil, err
	}
	return &Walk{Collection: c, Alias: alias, Associations: w.associations}, nil
}

func (w *walker) walkEntityTree(e *mapping.Entity, alias, path string, depth int) error {
	for _, p := range e.SubclassProperties() {
		// Properties of subclasses are absent from rows of other classes.
		own, _ := e.Property(p.Name)
		nullable := p.Nullable || own != p
		switch p.Kind {
		case mapping.KindEntity, mapping.KindCollection:
			if err := w.walkAssociation(e, e.Table, alias, path, p.Name, p, nullable, depth); err != nil {
				return err
			}
		case mapping.KindComponent:
			if err := w.walkComponentTree(e, e.Table, alias, subPath(path, p.Name), p.Name, p.Component, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) walkComponentTree(owner *mapping.Entity, table, alias, path, rel string, c *mapping.Component, depth int) error {
	for _, p := range c.Properties {
		switch p.Kind {
		case mapping.KindEntity, mapping.KindCollection:
			if err := w.walkAssociation(owner, table, alias, path, rel+"."+p.Name, p, p.Nullable, depth); err != nil {
				return err
			}
		case mapping.KindComponent:
			if err := w.walkComponentTree(owner, table, alias, subPath(path, p.Name), rel+"."+p.Name, p.Component, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkAssociation decides whether the association p of owner is joined
// and, if so, plans it and walks the joined table. rel is the property
// name relative to the owner, used to match fetch profiles.
func (w *walker) walkAssociation(owner *mapping.Entity, table, alias, path, rel string, p *mapping.Property, nullable bool, depth int) error {
	var (
		a          *Association
		subpath    = subPath(path, p.Name)
		collection = p.Kind == mapping.KindCollection
		name       string
		mode       = p.Fetch
		proxied    bool
	)
	if collection {
		c, err := w.reg.Collection(p.Role)
		if err != nil {
			return err
		}
		a = &Association{
			Path:       subpath,
			Property:   p,
			Entity:     c.ElementEntity(),
			Collection: c,
			LHSTable:   table,
			LHSAlias:   alias,
			LHSColumns: c.OwnerKeyColumns(),
			RHSTable:   c.Table,
			RHSColumns: c.KeyColumns,
		}
		if !c.IsOneToMany() {
			a.Entity = nil
		}
		name, mode = c.Role, c.Fetch
	} else {
		target, err := w.reg.Entity(p.Target)
		if err != nil {
			return err
		}
		lhs, rhs, err := w.reg.JoinColumns(owner, p)
		if err != nil {
			return err
		}
		a = &Association{
			Path:       subpath,
			Property:   p,
			Entity:     target,
			LHSTable:   table,
			LHSAlias:   alias,
			LHSColumns: lhs,
			RHSTable:   target.Table,
			RHSColumns: rhs,
		}
		name, proxied = target.Name, target.Proxy
	}
	profile := w.reg.IsProfileJoin(w.influencers, owner.Name, rel)
	if !w.admit(mode, collection, proxied, profile, a.Key(), depth) {
		return nil
	}
	a.JoinType = joinType(nullable || collection, depth)
	return w.addAssociation(a, name, depth)
}

// admit is the per-association join decision. The checks run in order and
// the duplicate check records the foreign key as visited.
func (w *walker) admit(mode mapping.FetchMode, collection, proxied, profile bool, key AssociationKey, depth int) bool {
	if w.lockMode.GreaterThan(fetchgraph.LockRead) {
		return false
	}
	if !eligible(mode, collection, proxied) && !profile {
		return false
	}
	if w.tooDeep(depth) || collection && w.tooManyCollections() {
		return false
	}
	return !w.duplicate(key)
}

func eligible(mode mapping.FetchMode, collection, proxied bool) bool {
	switch mode {
	case mapping.FetchJoin:
		return true
	case mapping.FetchSelect:
		return false
	default:
		return !collection && !proxied
	}
}

func (w *walker) tooDeep(depth int) bool {
	return w.maxDepth >= 0 && depth >= w.maxDepth
}

func (w *walker) tooManyCollections() bool {
	if !w.singleCollection {
		return false
	}
	if w.rootCollection {
		return true
	}
	for _, a := range w.associations {
		if a.IsCollection() {
			return true
		}
	}
	return false
}

func (w *walker) duplicate(key AssociationKey) bool {
	if _, ok := w.visited[key]; ok {
		return true
	}
	w.visited[key] = struct{}{}
	return false
}

// joinType joins inner only non-nullable associations of the root.
func joinType(nullable bool, depth int) JoinType {
	if !nullable && depth <= 0 {
		return InnerJoin
	}
	return LeftOuterJoin
}

func (w *walker) addAssociation(a *Association, name string, depth int) error {
	a.RHSAlias = GenerateAlias(name, len(w.associations)+1)
	a.Depth = depth
	if err := w.restrict(a); err != nil {
		return err
	}
	if err := a.validate(); err != nil {
		return err
	}
	w.associations = append(w.associations, a)
	switch {
	case a.Collection != nil:
		return w.walkCollectionTree(a.Collection, a.RHSAlias, a.Path, depth+1)
	default:
		return w.walkEntityTree(a.Entity, a.RHSAlias, a.Path, depth+1)
	}
}

// restrict sets the extra join predicate: the caller's join clause and
// the enabled filters of the joined table.
func (w *walker) restrict(a *Association) error {
	var (
		conds []string
		args  []any
	)
	if jc, ok := w.joinClauses[a.Path]; ok && a.Property != nil {
		conds = append(conds, "("+strings.ReplaceAll(jc.cond, "{alias}", a.RHSAlias)+")")
		args = append(args, jc.args...)
	}
	var filters []*mapping.Filter
	switch {
	case a.Collection != nil:
		filters = a.Collection.Filters
	case a.Property != nil && len(a.Property.ReferencedColumns) > 0:
		filters = a.Entity.Filters
	}
	cond, fargs, err := mapping.RenderFilters(filters, a.RHSAlias, w.influencers)
	if err != nil {
		return fetchgraph.NewMappingError(a.Path, "%v", err)
	}
	if cond != "" {
		conds = append(conds, cond)
		args = append(args, fargs...)
	}
	a.On = strings.Join(conds, " and ")
	a.OnArgs = args
	return nil
}

func (w *walker) walkCollectionTree(c *mapping.Collection, alias, path string, depth int) error {
	switch {
	case c.IsOneToMany():
		return w.walkEntityTree(c.ElementEntity(), alias, path, depth)
	case c.IsManyToMany():
		elem := c.ElementEntity()
		rhs := c.ElementReferencedColumns
		if len(rhs) == 0 {
			rhs = elem.ID.Columns
		}
		a := &Association{
			Path:       path,
			Entity:     elem,
			LHSTable:   c.Table,
			LHSAlias:   alias,
			LHSColumns: c.ElementColumns,
			RHSTable:   elem.Table,
			RHSColumns: rhs,
		}
		// The link table hop does not count against the depth limit.
		// Loading the collection itself, elements may be inner joined.
		if !w.admit(c.ElementFetch, false, elem.Proxy, false, a.Key(), depth-1) {
			return nil
		}
		a.JoinType = joinType(depth != 0, depth-1)
		return w.addAssociation(a, elem.Name, depth-1)
	case c.ElementComponent != nil:
		return w.walkComponentTree(c.OwnerEntity(), c.Table, alias, path, c.PropertyName(), c.ElementComponent, depth)
	}
	return nil
}

func subPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
