// Cursor helper tests in Beacon.

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncrementCursor(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"WellFormed":          {in: "5-0", want: "5-1"},
		"LargeComponents":     {in: "1693410127123-41", want: "1693410127123-42"},
		"ZeroCursor":          {in: "0-0", want: "0-1"},
		"NoSeparator":         {in: "foo", want: "foo"},
		"NonNumericMillis":    {in: "abc-1", want: "abc-1"},
		"NonNumericSeq":       {in: "1-xyz", want: "1-xyz"},
		"ExtraSeparator":      {in: "1-2-3", want: "1-2-3"},
		"Empty":               {in: "", want: ""},
		"NegativeSeqRejected": {in: "1--2", want: "1--2"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IncrementCursor(tc.in))
		})
	}
}
