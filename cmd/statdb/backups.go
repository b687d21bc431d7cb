package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/statdb/statdb"
)

// BackupsCommand represents a command to list backup artifacts.
type BackupsCommand struct{}

// NewBackupsCommand returns a new instance of BackupsCommand.
func NewBackupsCommand() *BackupsCommand {
	return &BackupsCommand{}
}

// Run executes the command.
func (c *BackupsCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("statdb-backups", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	fs.Usage = func() {
		fmt.Println(`
The backups command lists the backup artifacts found next to the database
file, newest first. Files that do not follow the backup naming are ignored.

Usage:

	statdb backups [arguments]

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
	if config.DB.Path == "" {
		return fmt.Errorf("database path required in config")
	}

	// Listing is a directory scan; it works whether or not the engine is
	// running.
	backups, err := statdb.NewDB(config.DB.Path).ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("no backups found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Kind", "Created", "Size"})
	for _, backup := range backups {
		table.Append([]string{
			filepath.Base(backup.Path),
			string(backup.Kind),
			backup.CreatedAt.Format(time.RFC3339),
			humanize.Bytes(uint64(backup.Size)),
		})
	}
	table.Render()

	return nil
}
