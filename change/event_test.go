package change

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilters(t *testing.T) {
	var ins = Event{Kind: Insert, Database: "main", Table: "Users", RowID: 1}
	var del = Event{Kind: Delete, Database: "main", Table: "orders", RowID: 2}

	require.True(t, All(ins))
	require.True(t, Kinds(Insert, Update)(ins))
	require.False(t, Kinds(Insert, Update)(del))
	require.True(t, Tables("users")(ins))
	require.False(t, Tables("users")(del))
	require.False(t, Kinds()(ins))

	var f = And(Tables("users", "orders"), nil, Kinds(Delete))
	require.False(t, f(ins))
	require.True(t, f(del))
	require.True(t, And()(ins))
}

func TestEventString(t *testing.T) {
	require.Equal(t, "update main.t rowid=42 depth=2",
		Event{Kind: Update, Database: "main", Table: "t", RowID: 42, Depth: 2}.String())
	require.Equal(t, "Kind(9)", Kind(9).String())
}
