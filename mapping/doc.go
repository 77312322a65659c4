// Package mapping holds the read-only metadata the fetch engine plans
// statements from: entities with their identifier, version, discriminator
// and properties, collection roles, filters and fetch profiles.
//
// Metadata is declared in Go and sealed in a Registry:
//
//	reg := mapping.NewRegistry()
//	reg.AddEntity(&mapping.Entity{
//		Name:  "Order",
//		Table: "orders",
//		ID:    &mapping.Identifier{Name: "id", Columns: []string{"id"}, Types: []mapping.Type{mapping.TypeInt}},
//		Properties: []*mapping.Property{
//			{Name: "customer", Kind: mapping.KindEntity, Target: "Customer", Columns: []string{"customer_id"}},
//			{Name: "items", Kind: mapping.KindCollection, Role: "Order.items"},
//		},
//	})
//	reg.AddCollection(&mapping.Collection{
//		Role: "Order.items", Owner: "Order", Element: "Item", OneToMany: true,
//		KeyColumns: []string{"order_id"}, Fetch: mapping.FetchJoin,
//	})
//	err := reg.Build()
//
// Properties are a tagged union over Kind: basic columns, entity
// associations, collections and components. Instances are created by a
// Tuplizer; Record is the default representation, StructTuplizer maps
// onto user structs.
package mapping
