package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/statdb/statdb"
)

// RestoreCommand represents a command to replace the database with a
// backup.
type RestoreCommand struct {
	// Path of the backup to restore. Empty selects the newest backup.
	BackupPath string

	// Skip validation of the backup before restoring.
	SkipVerify bool

	// Required confirmation for the destructive replace.
	Force bool
}

// NewRestoreCommand returns a new instance of RestoreCommand.
func NewRestoreCommand() *RestoreCommand {
	return &RestoreCommand{}
}

// Run executes the command.
func (c *RestoreCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("statdb-restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	fs.BoolVar(&c.Force, "force", false, "confirm replacing the live database")
	fs.BoolVar(&c.SkipVerify, "skip-verify", false, "do not validate the backup first")
	fs.Usage = func() {
		fmt.Println(`
The restore command replaces the live database file with a backup. This is
destructive: rows written after the backup was taken are lost. The backup
is validated before the swap unless -skip-verify is given.

With no argument the newest available backup is restored.

Usage:

	statdb restore [arguments] [BACKUP_PATH]

Arguments:
`[1:])
		fs.PrintDefaults()
		fmt.Println("")
	}
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many arguments")
	}
	c.BackupPath = fs.Arg(0)

	if !c.Force {
		return fmt.Errorf("restore replaces the live database, re-run with -force to confirm")
	}

	config := NewConfig()
	if err := ParseConfigPath(ctx, *configPath, !*noExpandEnv, &config); err != nil {
		return err
	}
	if config.DB.Path == "" {
		return fmt.Errorf("database path required in config")
	}

	db := statdb.NewDB(config.DB.Path)

	// Default to the newest backup when none is named.
	if c.BackupPath == "" {
		backups, err := db.ListBackups()
		if err != nil {
			return err
		} else if len(backups) == 0 {
			return fmt.Errorf("no backups found for %s", config.DB.Path)
		}
		c.BackupPath = backups[0].Path
	}

	if !c.SkipVerify {
		if result := statdb.ValidateDatabaseFile(ctx, c.BackupPath); !result.OK {
			for _, msg := range result.Errors {
				fmt.Println(msg)
			}
			return fmt.Errorf("backup failed validation: %s", c.BackupPath)
		}
	}

	if err := db.Restore(ctx, c.BackupPath); err != nil {
		return err
	}

	fmt.Printf("Restored database from %s\n", c.BackupPath)
	return nil
}
