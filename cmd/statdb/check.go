package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/statdb/statdb"
)

// CheckCommand represents a command to verify the database file.
type CheckCommand struct{}

// NewCheckCommand returns a new instance of CheckCommand.
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{}
}

// Run executes the command.
func (c *CheckCommand) Run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("statdb-check", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	fs.Usage = func() {
		fmt.Println(`
The check command verifies the database file without opening it for writes
and without triggering recovery. It prints "ok" when the file passes and
the diagnostic rows when it does not.

Usage:

	statdb check [arguments]

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

	result := statdb.ValidateDatabaseFile(ctx, config.DB.Path)
	if !result.OK {
		for _, msg := range result.Errors {
			fmt.Println(msg)
		}
		return fmt.Errorf("integrity check failed: %s", config.DB.Path)
	}

	fmt.Println("ok")
	return nil
}
