// Package actor runs the compute-side actor scheduler: the cooperative
// pool that drives each streaming actor's operator chain, dispatches its
// output, reports barrier collection, and isolates actor failure from
// the rest of the node.
package actor
