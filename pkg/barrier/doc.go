// Package barrier implements the meta-side barrier manager: the control
// loop that generates epochs, injects barriers into every source actor,
// waits for the whole graph to collect them, and hands the sealed epoch
// off to Hummock to commit.
package barrier
