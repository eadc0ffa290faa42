// Package main provides the obakv maintenance command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/KilimcininKorOglu/obakv"
)

// CLI defines the command-line interface of obakv.
type CLI struct {
	LogLevel  string `name:"log-level" default:"warn" enum:"debug,info,warn,error" env:"OBAKV_LOG_LEVEL" help:"Engine log level (${enum})."`
	LogFormat string `name:"log-format" default:"text" enum:"text,json" env:"OBAKV_LOG_FORMAT" help:"Engine log format (${enum})."`

	Stat       StatCmd       `cmd:"" help:"Show space usage of a database"`
	Check      CheckCmd      `cmd:"" help:"Verify trees, checksums and page accounting"`
	Compact    CompactCmd    `cmd:"" help:"Move data to the front of the file and shrink it"`
	Tables     TablesCmd     `cmd:"" help:"List tables"`
	Dump       DumpCmd       `cmd:"" help:"Print the entries of a table"`
	Savepoints SavepointsCmd `cmd:"" help:"List persistent savepoints"`
	Backup     BackupCmd     `cmd:"" help:"Write a consistent copy of a database"`
	Restore    RestoreCmd    `cmd:"" help:"Create a database from a backup"`
	Version    VersionCmd    `cmd:"" help:"Print version information"`
}

// runContext is passed to every command's Run method.
type runContext struct {
	stdout io.Writer
	stderr io.Writer
	logger obakv.Logger
}

// openDB opens an existing database with the CLI's logger.
func (rc *runContext) openDB(path string, readOnly bool) (*obakv.DB, error) {
	opts := obakv.DefaultOptions().
		WithCreateIfNotExists(false).
		WithReadOnly(readOnly).
		WithLogger(rc.logger)
	db, err := obakv.Open(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// exitCode carries kong's exit request out of the parser.
type exitCode int

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns an exit code.
// This is separated from main() to facilitate testing.
func run(args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("obakv"),
		kong.Description("Maintenance tool for ObaKV database files."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { panic(exitCode(c)) }),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	kctx, err := parser.Parse(args[1:])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	rc := &runContext{
		stdout: stdout,
		stderr: stderr,
		logger: obakv.NewLogger(stderr, cli.LogLevel, cli.LogFormat),
	}
	if err := kctx.Run(rc); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var failed checkFailed
		if errors.As(err, &failed) {
			return 2
		}
		return 1
	}
	return 0
}
