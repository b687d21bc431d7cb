package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/dustin/go-humanize"
)

// BackupCommand represents a command to create an ad-hoc backup.
type BackupCommand struct{}

// NewBackupCommand returns a new instance of BackupCommand.
func NewBackupCommand() *BackupCommand {
	return &BackupCommand{}
}

// Run executes the command.
func (c *BackupCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("statdb-backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	fs.Usage = func() {
		fmt.Println(`
The backup command creates a timestamped ad-hoc backup next to the database
file. The WAL is checkpointed first so the backup is a self-contained
snapshot. Ad-hoc backups are never rotated away.

Usage:

	statdb backup [arguments]

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

	info, err := db.BackupNow(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Backup written to %s (%s)\n", info.Path, humanize.Bytes(uint64(info.Size)))
	return nil
}
