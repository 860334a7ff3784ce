// Cursor helpers for the durable event log consumed by Beacon.

package relay

import (
	"strconv"
	"strings"
)

// IncrementCursor returns the cursor immediately following id, where id is in
// <millis>-<seq> form. Anything malformed is returned unchanged, treated as an
// opaque cursor for the log layer to reject or no-op on.
func IncrementCursor(id string) string {
	millis, seq, found := strings.Cut(id, "-")
	if !found {
		return id
	}
	ms, prserr := strconv.ParseUint(millis, 10, 64)
	if prserr != nil {
		return id
	}
	sq, prserr := strconv.ParseUint(seq, 10, 64)
	if prserr != nil {
		return id
	}
	return strconv.FormatUint(ms, 10) + "-" + strconv.FormatUint(sq+1, 10)
}
