package mainboilerplate

import (
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type nopCmd struct {
	Flag string `long:"flag"`
}

func (nopCmd) Execute([]string) error { return nil }

func TestCommandRegistryBuildsTree(t *testing.T) {
	var reg = NewCommandRegistry()
	reg.AddCommand("", "one", "First", "", &nopCmd{})
	reg.AddCommand("one", "two", "Second", "", &nopCmd{})
	reg.AddCommand("one.two", "three", "Third", "", &nopCmd{})
	reg.AddCommand("", "four", "Fourth", "", &nopCmd{})

	var parser = flags.NewParser(nil, flags.None)
	require.NoError(t, reg.AddCommands("", parser.Command))

	require.NotNil(t, parser.Find("one"))
	require.NotNil(t, parser.Find("four"))
	require.NotNil(t, parser.Find("one").Find("two"))
	require.NotNil(t, parser.Find("one").Find("two").Find("three"))

	var leaf = &nopCmd{}
	reg = NewCommandRegistry()
	reg.AddCommand("", "leaf", "Leaf", "", leaf)
	parser = flags.NewParser(nil, flags.None)
	require.NoError(t, reg.AddCommands("", parser.Command))

	var _, err = parser.ParseArgs([]string{"leaf", "--flag", "value"})
	require.NoError(t, err)
	require.Equal(t, "value", leaf.Flag)
}

func TestMustPanicsOnlyOnError(t *testing.T) {
	require.NotPanics(t, func() { Must(nil, "not reached") })
	require.Panics(t, func() { Must(errors.New("whoops"), "failed", "key", "value") })
}
