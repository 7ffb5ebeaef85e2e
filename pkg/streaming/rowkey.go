package streaming

import (
	"fmt"
	"strings"
)

// RowKey renders a row (typically already Project-ed down to the group,
// join or sort columns an operator keys state by) into a string usable as
// a Go map key or a state-table primary key component. Operators have no
// schema to hash datums against, so this falls back to each datum's
// default string form; callers that need an ordered byte encoding for a
// sort key (Top-N) use EncodeSortKey instead.
func RowKey(r Row) string {
	var b strings.Builder
	for i, d := range r {
		if i > 0 {
			b.WriteByte(0x1f) // unit separator, unlikely in formatted datums
		}
		fmt.Fprintf(&b, "%v", d)
	}
	return b.String()
}
