package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolutionStringNames(t *testing.T) {
	cases := map[Resolution]string{
		Merge:     "merge",
		KeepOld:   "keep_old",
		KeepNew:   "keep_new",
		Supersede: "supersede",
	}
	for res, want := range cases {
		require.Equal(t, want, res.String(), "Resolution(%d).String()", res)
	}
}

func TestLastWriteWinsAlwaysKeepsNew(t *testing.T) {
	require.Equal(t, KeepNew, lastWriteWins.Resolve(nil, nil))
}
