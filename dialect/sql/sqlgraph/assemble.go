package sqlgraph

import (
	"slices"
	"strings"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/dialect"
	"github.com/syssam/fetchgraph/mapping"
)

// Statement holds the caller supplied parts of a statement.
type Statement struct {
	// Where is the root predicate and Args its arguments.
	Where string
	Args  []any
	// OrderBy and GroupBy are appended after the orderings of joined
	// collections.
	OrderBy string
	GroupBy string
	// RootOrdered orders rows by the root key right after OrderBy and
	// before the collection orderings, keeping the rows of one root
	// contiguous.
	RootOrdered bool
	// Lock holds the requested lock modes.
	Lock *fetchgraph.LockOptions
	// Dialect renders lock clauses. A nil dialect renders none.
	Dialect dialect.Dialect
	// Influencers enable filters on the root table.
	Influencers *mapping.Influencers
	// EntityOverrides and CollectionOverrides replace generated result
	// column aliases, keyed by association path ("" for the root).
	EntityOverrides     map[string]map[string][]string
	CollectionOverrides map[string]map[string][]string
}

// Plan is an assembled statement with everything needed to read its rows.
// Entities and collections are listed in join order. The root entity, if
// any, is at index 0, and owners always precede what they own.
type Plan struct {
	// SQL is the statement with '?' placeholders.
	SQL string
	// LockClause is the trailing lock clause of SQL, if any.
	LockClause string
	// Args are the arguments of the placeholders, in order.
	Args []any
	// Walk is the walk the plan was assembled from.
	Walk *Walk

	Entities      []*mapping.Entity
	EntityAliases []*EntityAliases
	TableAliases  []string
	// Owners holds, per entity, the index of the entity owning it through
	// a one-to-one, or -1. Nil when no entity has an owner.
	Owners []int
	// OwnerProperties holds, per entity, the one-to-one property of the
	// owner the entity is read for.
	OwnerProperties []*mapping.Property
	LockModes       []fetchgraph.LockMode

	Collections            []*mapping.Collection
	CollectionAliases      []*CollectionAliases
	CollectionTableAliases []string
	// CollectionOwners holds, per collection, the index of the owning
	// entity, or -1. Nil when no collection has an owner in the row.
	CollectionOwners []int

	// QuerySpaces are the tables the statement reads.
	QuerySpaces []string
}

// EntitySpan returns the number of entities read per row.
func (p *Plan) EntitySpan() int { return len(p.Entities) }

// Owner returns the owner index of entity i, or -1.
func (p *Plan) Owner(i int) int {
	if p.Owners == nil {
		return -1
	}
	return p.Owners[i]
}

// CollectionOwner returns the owner index of collection i, or -1.
func (p *Plan) CollectionOwner(i int) int {
	if p.CollectionOwners == nil {
		return -1
	}
	return p.CollectionOwners[i]
}

// Assemble builds one statement from a walk.
func Assemble(w *Walk, st Statement) (*Plan, error) {
	p := &Plan{Walk: w}
	if err := p.initPersisters(w, st); err != nil {
		return nil, err
	}
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("select ")
	b.WriteString(p.selectString(w))
	b.WriteString(" from ")
	table := rootTable(w) + " " + w.Alias
	if st.Dialect != nil && len(p.LockModes) > 0 {
		table = st.Dialect.AppendLockHint(p.LockModes[0], table)
	}
	b.WriteString(table)
	joins, jargs, err := mergeOuterJoins(w.Associations, st.Influencers)
	if err != nil {
		return nil, err
	}
	b.WriteString(joins)
	args = append(args, jargs...)
	where, wargs, m2mOrder, err := rootRestriction(w, st)
	if err != nil {
		return nil, err
	}
	if where != "" {
		b.WriteString(" where ")
		b.WriteString(where)
		args = append(args, wargs...)
	}
	if st.GroupBy != "" {
		b.WriteString(" group by ")
		b.WriteString(st.GroupBy)
	}
	joined := orderBy(w.Associations)
	if w.Collection != nil {
		joined = mergeOrderings(mergeOrderings(mapping.RenderOrder(w.Alias, w.Collection.OrderBy), m2mOrder), joined)
	}
	var ordering string
	if st.RootOrdered {
		ordering = mergeOrderings(st.OrderBy, mergeOrderings(rootOrder(w), joined))
	} else {
		ordering = mergeOrderings(joined, st.OrderBy)
	}
	if ordering != "" {
		b.WriteString(" order by ")
		b.WriteString(ordering)
	}
	p.LockClause = p.lockString(st)
	b.WriteString(p.LockClause)
	p.SQL = b.String()
	p.Args = args
	return p, nil
}

// initPersisters derives the entity and collection arrays of the plan.
func (p *Plan) initPersisters(w *Walk, st Statement) error {
	type entry struct {
		path  string
		owner int
		prop  *mapping.Property
	}
	var (
		entries []entry
		colls   []string
	)
	addEntity := func(e *mapping.Entity, alias, path string, owner int, prop *mapping.Property) {
		p.Entities = append(p.Entities, e)
		p.TableAliases = append(p.TableAliases, alias)
		entries = append(entries, entry{path: path, owner: owner, prop: prop})
	}
	addCollection := func(c *mapping.Collection, alias, path string, owner int) {
		p.Collections = append(p.Collections, c)
		p.CollectionTableAliases = append(p.CollectionTableAliases, alias)
		p.CollectionOwners = append(p.CollectionOwners, owner)
		colls = append(colls, path)
	}
	switch {
	case w.Entity != nil:
		addEntity(w.Entity, w.Alias, "", -1, nil)
	case w.Collection != nil:
		addCollection(w.Collection, w.Alias, "", -1)
		if w.Collection.IsOneToMany() {
			addEntity(w.Collection.ElementEntity(), w.Alias, "", -1, nil)
		}
	}
	for _, a := range w.Associations {
		if !a.IsCollection() {
			var prop *mapping.Property
			if a.IsOneToOne() {
				prop = a.Property
			}
			addEntity(a.Entity, a.RHSAlias, a.Path, a.Owner(p.TableAliases), prop)
			continue
		}
		if a.JoinType == LeftOuterJoin && !a.HasRestriction() {
			addCollection(a.Collection, a.RHSAlias, a.Path, a.Owner(p.TableAliases))
		}
		if a.Collection.IsOneToMany() {
			addEntity(a.Entity, a.RHSAlias, a.Path, -1, nil)
		}
	}
	bags := 0
	for _, c := range p.Collections {
		if c.Kind == mapping.Bag {
			bags++
		}
	}
	if bags > 1 {
		roles := make([]string, len(p.Collections))
		for i, c := range p.Collections {
			roles[i] = c.Role
		}
		return fetchgraph.NewMappingError(strings.Join(roles, ", "), "cannot simultaneously fetch multiple bags")
	}
	suffixes := GenerateSuffixes(0, len(p.Entities))
	p.Owners = make([]int, len(p.Entities))
	p.OwnerProperties = make([]*mapping.Property, len(p.Entities))
	p.LockModes = make([]fetchgraph.LockMode, len(p.Entities))
	for i, e := range p.Entities {
		p.EntityAliases = append(p.EntityAliases, NewEntityAliases(e, suffixes[i], st.EntityOverrides[entries[i].path]))
		p.Owners[i] = entries[i].owner
		p.OwnerProperties[i] = entries[i].prop
		p.LockModes[i] = st.Lock.AliasMode(p.TableAliases[i])
	}
	csuffixes := GenerateSuffixes(len(p.Entities), len(p.Collections))
	for i, c := range p.Collections {
		p.CollectionAliases = append(p.CollectionAliases, NewCollectionAliases(c, csuffixes[i], st.CollectionOverrides[colls[i]]))
	}
	if allNegative(p.Owners) {
		p.Owners = nil
	}
	if allNegative(p.CollectionOwners) {
		p.CollectionOwners = nil
	}
	for _, e := range p.Entities {
		p.QuerySpaces = append(p.QuerySpaces, e.QuerySpaces()...)
	}
	for _, c := range p.Collections {
		p.QuerySpaces = append(p.QuerySpaces, c.QuerySpaces()...)
	}
	slices.Sort(p.QuerySpaces)
	p.QuerySpaces = slices.Compact(p.QuerySpaces)
	return nil
}

func allNegative(ns []int) bool {
	for _, n := range ns {
		if n >= 0 {
			return false
		}
	}
	return true
}

func rootTable(w *Walk) string {
	if w.Entity != nil {
		return w.Entity.Table
	}
	return w.Collection.Table
}

// selectString renders the select list. A many-to-many collection followed
// by its element join reads element values from the element table.
func (p *Plan) selectString(w *Walk) string {
	var (
		frags []string
		ei    int
		ci    int
	)
	if w.Collection != nil {
		frags = append(frags, p.CollectionAliases[0].SelectFragment(w.Alias))
		ci++
	}
	if w.Entity != nil || w.Collection != nil && w.Collection.IsOneToMany() {
		frags = append(frags, p.EntityAliases[0].SelectFragment(w.Alias))
		ei++
	}
	for i, a := range w.Associations {
		var next *Association
		if i+1 < len(w.Associations) {
			next = w.Associations[i+1]
		}
		if a.IsCollection() && a.JoinType == LeftOuterJoin && !a.HasRestriction() {
			ca := p.CollectionAliases[ci]
			if a.IsManyToManyWith(next) {
				frags = append(frags, ca.ManyToManySelectFragment(a.RHSAlias, next.RHSAlias, next.RHSColumns))
			} else {
				frags = append(frags, ca.SelectFragment(a.RHSAlias))
			}
			ci++
		}
		if a.ConsumesEntityAlias() {
			frags = append(frags, p.EntityAliases[ei].SelectFragment(a.RHSAlias))
			ei++
		}
	}
	return strings.Join(slices.DeleteFunc(frags, func(s string) bool { return s == "" }), ", ")
}

// mergeOuterJoins renders the joins. The element join of a many-to-many
// is rendered together with the link table join and carries the
// collection's many-to-many filters.
func mergeOuterJoins(as []*Association, inf *mapping.Influencers) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
		last *Association
	)
	for _, a := range as {
		var extra string
		args = append(args, a.OnArgs...)
		if last != nil && last.IsManyToManyWith(a) {
			cond, fargs, err := mapping.RenderFilters(last.Collection.ManyToManyFilters, a.RHSAlias, inf)
			if err != nil {
				return "", nil, fetchgraph.NewMappingError(a.Path, "%v", err)
			}
			extra = cond
			args = append(args, fargs...)
		}
		b.WriteByte(' ')
		b.WriteString(a.JoinType.String())
		b.WriteByte(' ')
		b.WriteString(a.RHSTable)
		b.WriteByte(' ')
		b.WriteString(a.RHSAlias)
		b.WriteString(" on ")
		b.WriteString(a.condition(extra))
		last = a
	}
	return b.String(), args, nil
}

// rootRestriction combines the enabled filters of the root with the
// caller's predicate. For a many-to-many collection root it also returns
// the element table ordering.
func rootRestriction(w *Walk, st Statement) (string, []any, string, error) {
	var (
		conds []string
		args  []any
		order string
	)
	addFilters := func(fs []*mapping.Filter, alias string) error {
		cond, fargs, err := mapping.RenderFilters(fs, alias, st.Influencers)
		if err != nil {
			return fetchgraph.NewMappingError(w.Alias, "%v", err)
		}
		if cond != "" {
			conds = append(conds, cond)
			args = append(args, fargs...)
		}
		return nil
	}
	switch {
	case w.Entity != nil:
		if err := addFilters(w.Entity.Filters, w.Alias); err != nil {
			return "", nil, "", err
		}
	case w.Collection != nil:
		c := w.Collection
		if err := addFilters(c.Filters, w.Alias); err != nil {
			return "", nil, "", err
		}
		if c.IsManyToMany() {
			for _, a := range w.Associations {
				if a.Property == nil && a.LHSAlias == w.Alias && a.Entity == c.ElementEntity() {
					if err := addFilters(c.ManyToManyFilters, a.RHSAlias); err != nil {
						return "", nil, "", err
					}
					order = mapping.RenderOrder(a.RHSAlias, c.ManyToManyOrderBy)
					break
				}
			}
		}
	}
	if st.Where != "" {
		if len(conds) > 0 {
			conds = append(conds, "("+st.Where+")")
		} else {
			conds = append(conds, st.Where)
		}
		args = append(args, st.Args...)
	}
	return strings.Join(conds, " and "), args, order, nil
}

// orderBy merges the orderings of outer joined collections in join order.
// An entity joined through a many-to-many uses the element ordering.
func orderBy(as []*Association) string {
	var (
		orders []string
		last   *Association
	)
	for _, a := range as {
		if a.JoinType == LeftOuterJoin {
			switch {
			case a.IsCollection():
				if a.Collection.HasOrdering() {
					orders = append(orders, mapping.RenderOrder(a.RHSAlias, a.Collection.OrderBy))
				}
			case last != nil && last.IsManyToManyWith(a):
				if last.Collection.HasManyToManyOrdering() {
					orders = append(orders, mapping.RenderOrder(a.RHSAlias, last.Collection.ManyToManyOrderBy))
				}
			}
		}
		last = a
	}
	return strings.Join(orders, ", ")
}

func rootOrder(w *Walk) string {
	var cols []string
	if w.Entity != nil {
		cols = w.Entity.ID.Columns
	} else {
		cols = w.Collection.KeyColumns
	}
	orders := make([]mapping.Order, len(cols))
	for i, c := range cols {
		orders[i] = mapping.Order{Column: c}
	}
	return mapping.RenderOrder(w.Alias, orders)
}

func mergeOrderings(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + ", " + b
	}
}

// lockString returns the lock clause of the statement. Only aliases with
// a pessimistic lock mode are named when alias specific modes are set.
func (p *Plan) lockString(st Statement) string {
	if st.Dialect == nil || st.Lock == nil {
		return ""
	}
	var (
		greatest fetchgraph.LockMode
		aliases  []string
	)
	for i, m := range p.LockModes {
		if m.GreaterThan(greatest) {
			greatest = m
		}
		if m.IsPessimistic() {
			aliases = append(aliases, p.TableAliases[i])
		}
	}
	if !greatest.IsPessimistic() {
		return ""
	}
	if !st.Lock.HasAliasModes() {
		aliases = nil
	}
	return st.Dialect.ForUpdateString(greatest, aliases)
}

// KeyRestriction renders the restriction of alias to batchSize keys of
// columns: "a.id=?", "a.id in (?, ?)", "a.x=? and a.y=?" or
// "((a.x=? and a.y=?) or (a.x=? and a.y=?))".
func KeyRestriction(alias string, columns []string, batchSize int) string {
	if batchSize < 1 {
		batchSize = 1
	}
	if len(columns) == 1 {
		col := alias + "." + columns[0]
		if batchSize == 1 {
			return col + "=?"
		}
		return col + " in (" + strings.TrimSuffix(strings.Repeat("?, ", batchSize), ", ") + ")"
	}
	conj := make([]string, len(columns))
	for i, c := range columns {
		conj[i] = alias + "." + c + "=?"
	}
	byID := strings.Join(conj, " and ")
	if batchSize == 1 {
		return byID
	}
	disj := make([]string, batchSize)
	for i := range disj {
		disj[i] = "(" + byID + ")"
	}
	return "(" + strings.Join(disj, " or ") + ")"
}
