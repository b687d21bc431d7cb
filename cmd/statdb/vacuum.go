package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/dustin/go-humanize"
)

// VacuumCommand represents a command to reclaim free space from the
// database file.
type VacuumCommand struct{}

// NewVacuumCommand returns a new instance of VacuumCommand.
func NewVacuumCommand() *VacuumCommand {
	return &VacuumCommand{}
}

// Run executes the command.
func (c *VacuumCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("statdb-vacuum", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	fs.Usage = func() {
		fmt.Println(`
The vacuum command rebuilds the database file to reclaim space from deleted
rows. It runs unconditionally, ignoring the size and interval gates applied
to scheduled vacuums.

Usage:

	statdb vacuum [arguments]

Arguments:
`[1:])
		fs.PrintDefaults()
		fmt.Println("")
	}
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments")
	}

	config := NewConfig()
	if err := ParseConfigPath(ctx, *configPath, !*noExpandEnv, &config); err != nil {
		return err
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

	freed, err := db.Vacuum(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Vacuum reclaimed %s\n", humanize.Bytes(uint64(freed)))
	return nil
}
