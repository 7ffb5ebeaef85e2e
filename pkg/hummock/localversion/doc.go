// Package localversion mirrors a Hummock version on a compute node,
// kept current by a push stream of version deltas from meta. Reads on a compute node resolve against this mirror instead of
// calling meta, the same way compute nodes in the reference pack cache
// cluster membership instead of querying it per request.
package localversion
