package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	mbp "go.gazette.dev/dbqueue/mainboilerplate"
)

const iniFilename = "dbqctl.ini"

var (
	baseCfg = new(struct {
		Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Diagnostics mbp.DiagnosticsConfig `group:"Diagnostics" namespace:"metrics" env-namespace:"METRICS"`
	})
	registry = mbp.NewCommandRegistry()
)

func main() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	parser.LongDescription = `dbqctl is a tool for running statements against SQLite databases through
a serialized database queue, and for observing the changes they commit.

See --help pages of each sub-command for documentation and usage examples.
Optionally configure dbqctl with a '` + iniFilename + `' file in the current working directory,
or with '~/.config/dbqueue/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
the tool's current configuration.
`
	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.Must(registry.AddCommands("", parser.Command), "could not add subcommand")

	mbp.MustParseConfig(parser, iniFilename, os.Args[1:])
}

// startup of a command. The returned closure should be deferred.
func startup() func() {
	mbp.InitLog(baseCfg.Log)
	return mbp.InitDiagnosticsAndRecover(baseCfg.Diagnostics)
}
