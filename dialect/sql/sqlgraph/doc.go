// Package sqlgraph plans the joins of a fetch and renders them into one
// SQL statement.
//
// A fetch starts with a walk of the association graph from a root entity
// or collection. The walker decides per association whether it is joined,
// based on its fetch mode, the enabled fetch profiles, the depth limit,
// the lock mode and the foreign keys already joined:
//
//	w, err := sqlgraph.WalkEntity(reg, order, sqlgraph.GenerateAlias("Order", 0),
//		sqlgraph.WithConfig(cfg),
//		sqlgraph.WithInfluencers(inf),
//	)
//
// Assemble turns the walk into a Plan: the statement text, its arguments,
// and the entities and collections each row carries together with the
// result column aliases they are read from.
//
//	p, err := sqlgraph.Assemble(w, sqlgraph.Statement{
//		Where: sqlgraph.KeyRestriction(w.Alias, order.ID.Columns, 1),
//		Args:  []any{id},
//	})
//	// select order0_.id as id1_0_, ... from orders order0_
//	//   inner join customers customer1_ on order0_.customer_id=customer1_.id
//	//   left outer join items items2_ on order0_.id=items2_.order_id
//	//   where order0_.id=? order by items2_.position asc
package sqlgraph
