// Package subscription implements the change-reader a subscription
// object exposes over one table: given two committed
// epochs, Diff resolves each version's rows in key order via a two-epoch
// merge and surfaces (old_row, new_row, op) for every user key that
// changed between them. A Reader pins the committed versions it still
// needs and refuses to diff below the oldest one a caller has retained.
package subscription
