// Package fixture provides the mapping model shared by tests.
//
// The shop model has:
//
//	Customer (customers)        id, version, name
//	Order (orders)              id, number, customer -> Customer, items, tags, shipping{street, city}
//	Item (items)                id, name, position, order -> Order
//	Tag (tags)                  id, label; linked to orders through order_tags
//	Employee (employees)        id, name, manager -> Employee
//	Animal, Dog, Cat (animals)  single table hierarchy on kind
//	Person, Passport            one-to-one through passports.person_id
package fixture

import (
	"github.com/syssam/fetchgraph/mapping"
)

// intID returns an integer identifier over the given columns.
func intID(cols ...string) *mapping.Identifier {
	types := make([]mapping.Type, len(cols))
	for i := range types {
		types[i] = mapping.TypeInt
	}
	return &mapping.Identifier{Name: "id", Columns: cols, Types: types}
}

func basic(name, column string, t mapping.Type) *mapping.Property {
	return &mapping.Property{Name: name, Kind: mapping.KindBasic, Columns: []string{column}, Type: t}
}

// Shop returns the unbuilt shop registry, so tests can adjust it before
// calling Build.
func Shop() *mapping.Registry {
	reg := mapping.NewRegistry()
	must(reg.AddFilter(&mapping.FilterDef{Name: "tenant", Params: []string{"tenant"}}))
	must(reg.AddFilter(&mapping.FilterDef{Name: "visible"}))
	must(reg.AddFetchProfile(&mapping.FetchProfile{
		Name:    "order-with-tags",
		Fetches: []mapping.ProfileFetch{{Entity: "Order", Association: "tags"}},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:    "Customer",
		Table:   "customers",
		ID:      intID("id"),
		Version: &mapping.Version{Name: "version", Column: "version", Type: mapping.TypeInt},
		Properties: []*mapping.Property{
			basic("name", "name", mapping.TypeString),
		},
		NaturalID: []string{"name"},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:  "Order",
		Table: "orders",
		ID:    intID("id"),
		Properties: []*mapping.Property{
			basic("number", "number", mapping.TypeString),
			{Name: "customer", Kind: mapping.KindEntity, Target: "Customer", Columns: []string{"customer_id"}},
			{Name: "items", Kind: mapping.KindCollection, Role: "Order.items"},
			{Name: "tags", Kind: mapping.KindCollection, Role: "Order.tags"},
			{Name: "shipping", Kind: mapping.KindComponent, Component: &mapping.Component{
				Properties: []*mapping.Property{
					basic("street", "ship_street", mapping.TypeString),
					basic("city", "ship_city", mapping.TypeString),
				},
			}},
		},
		Filters: []*mapping.Filter{{Name: "tenant", Condition: "{alias}.tenant_id = :tenant"}},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:  "Item",
		Table: "items",
		ID:    intID("id"),
		Properties: []*mapping.Property{
			basic("name", "name", mapping.TypeString),
			basic("position", "position", mapping.TypeInt),
			{Name: "order", Kind: mapping.KindEntity, Target: "Order", Columns: []string{"order_id"}},
		},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:  "Tag",
		Table: "tags",
		ID:    intID("id"),
		Properties: []*mapping.Property{
			basic("label", "label", mapping.TypeString),
		},
	}))
	must(reg.AddCollection(&mapping.Collection{
		Role:       "Order.items",
		Kind:       mapping.Bag,
		Owner:      "Order",
		Element:    "Item",
		OneToMany:  true,
		KeyColumns: []string{"order_id"},
		Fetch:      mapping.FetchJoin,
		OrderBy:    []mapping.Order{{Column: "position"}},
	}))
	must(reg.AddCollection(&mapping.Collection{
		Role:              "Order.tags",
		Kind:              mapping.Set,
		Owner:             "Order",
		Table:             "order_tags",
		Element:           "Tag",
		KeyColumns:        []string{"order_id"},
		ElementColumns:    []string{"tag_id"},
		Fetch:             mapping.FetchSelect,
		ManyToManyOrderBy: []mapping.Order{{Column: "label"}},
		ManyToManyFilters: []*mapping.Filter{{Name: "visible", Condition: "{alias}.hidden = false"}},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:  "Employee",
		Table: "employees",
		ID:    intID("id"),
		Properties: []*mapping.Property{
			basic("name", "name", mapping.TypeString),
			{Name: "manager", Kind: mapping.KindEntity, Target: "Employee", Columns: []string{"manager_id"}, Nullable: true},
		},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:               "Animal",
		Table:              "animals",
		ID:                 intID("id"),
		Discriminator:      &mapping.Discriminator{Column: "kind", Type: mapping.TypeString},
		DiscriminatorValue: "animal",
		Properties: []*mapping.Property{
			basic("name", "name", mapping.TypeString),
		},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:               "Dog",
		Parent:             "Animal",
		DiscriminatorValue: "dog",
		Properties: []*mapping.Property{
			basic("barks", "barks", mapping.TypeBool),
		},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:               "Cat",
		Parent:             "Animal",
		DiscriminatorValue: "cat",
		Properties: []*mapping.Property{
			basic("lives", "lives", mapping.TypeInt),
		},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:  "Person",
		Table: "persons",
		ID:    intID("id"),
		Properties: []*mapping.Property{
			basic("name", "name", mapping.TypeString),
			{Name: "passport", Kind: mapping.KindEntity, Target: "Passport", OneToOne: true, Nullable: true, ReferencedColumns: []string{"person_id"}},
		},
	}))
	must(reg.AddEntity(&mapping.Entity{
		Name:  "Passport",
		Table: "passports",
		ID:    intID("id"),
		Properties: []*mapping.Property{
			basic("number", "number", mapping.TypeString),
			{Name: "person", Kind: mapping.KindEntity, Target: "Person", Columns: []string{"person_id"}},
		},
	}))
	return reg
}

// BuiltShop returns the built shop registry.
func BuiltShop() *mapping.Registry {
	reg := Shop()
	must(reg.Build())
	return reg
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
