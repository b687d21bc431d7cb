package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/statdb/statdb"
)

// ExportCommand represents a command to write a consistent copy of the
// database to a path.
type ExportCommand struct {
	// Path to export the database to.
	Path string
}

// NewExportCommand returns a new instance of ExportCommand.
func NewExportCommand() *ExportCommand {
	return &ExportCommand{}
}

// Run executes the command.
func (c *ExportCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("statdb-export", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	fs.Usage = func() {
		fmt.Println(`
The export command writes a checkpointed, self-contained copy of the
database to PATH. The copy can be opened directly with any SQLite client;
it does not depend on WAL or SHM sidecars.

Usage:

	statdb export [arguments] PATH

Arguments:
`[1:])
		fs.PrintDefaults()
		fmt.Println("")
	}
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many arguments")
	}

	// Copy first arg as destination path.
	c.Path = fs.Arg(0)

	config := NewConfig()
	if err := ParseConfigPath(ctx, *configPath, !*noExpandEnv, &config); err != nil {
		return err
	}

	// Clear stale files at the destination, including sidecars from a
	// previous copy made by other tools.
	for _, suffix := range []string{"", statdb.JournalSuffix, statdb.WALSuffix, statdb.SHMSuffix} {
		if err := os.Remove(c.Path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	db, err := openDB(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if e := db.Close(); err == nil {
			err = e
		}
	}()

	t := time.Now()
	if err := db.CreateConsistentCopy(ctx, c.Path); err != nil {
		return err
	}

	// Notify user of success and elapsed time.
	fmt.Printf("Exported database to %q in %s\n", c.Path, time.Since(t))

	return nil
}
