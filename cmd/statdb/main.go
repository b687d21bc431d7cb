package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/dustin/go-humanize"
	"github.com/statdb/statdb"
	"github.com/statdb/statdb/s3"
)

// Build information.
var (
	Version = ""
	Commit  = ""
)

func main() {
	log.SetFlags(0)

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	m := NewMain()
	if err := m.Run(ctx, os.Args[1:]); err == flag.ErrHelp {
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Short commands exit as soon as they return. The run command stays
	// resident until it receives a signal or its subprocess exits.
	if m.runCmd == nil {
		cancel()
		return
	}

	var execErr error
	select {
	case execErr = <-m.runCmd.ExecCh():
		cancel()
		fmt.Println("subprocess exited, statdb shutting down")

	case sig := <-signalCh:
		if cmd := m.runCmd.Cmd(); cmd != nil {
			fmt.Println("sending signal to exec process")
			if err := cmd.Process.Signal(sig); err != nil {
				fmt.Fprintln(os.Stderr, "cannot signal exec process:", err)
				os.Exit(1)
			}

			fmt.Println("waiting for exec process to close")
			if err := <-m.runCmd.ExecCh(); err != nil && !strings.HasPrefix(err.Error(), "signal:") {
				fmt.Fprintln(os.Stderr, "cannot wait for exec process:", err)
				os.Exit(1)
			}
		}

		cancel()
		fmt.Println("signal received, statdb shutting down")
	}

	if err := m.runCmd.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if execErr != nil {
		fmt.Fprintln(os.Stderr, execErr)
		os.Exit(1)
	}
}

// Main represents the command line program.
type Main struct {
	runCmd *RunCommand // set when the run command starts
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{}
}

// Run dispatches to the named subcommand.
func (m *Main) Run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "backup":
		return NewBackupCommand().Run(ctx, args)
	case "backups":
		return NewBackupsCommand().Run(ctx, args)
	case "check":
		return NewCheckCommand().Run(ctx, args)
	case "export":
		return NewExportCommand().Run(ctx, args)
	case "restore":
		return NewRestoreCommand().Run(ctx, args)
	case "vacuum":
		return NewVacuumCommand().Run(ctx, args)

	case "run":
		c := NewRunCommand()
		if err := c.ParseFlags(ctx, args); err != nil {
			return err
		}
		if err := c.Run(ctx); err != nil {
			_ = c.Close()
			return err
		}
		m.runCmd = c
		return nil

	case "version":
		fmt.Println(VersionString())
		return nil

	case "", "help", "-h", "--help":
		printUsage()
		return flag.ErrHelp

	default:
		return fmt.Errorf("unknown command %q, run 'statdb help' for usage", cmd)
	}
}

func printUsage() {
	fmt.Println(`
statdb manages an embedded telemetry database with self-healing durability:
it validates the file on open, recovers from backups when it is corrupt,
and runs backup & vacuum maintenance unattended.

Usage:

	statdb <command> [arguments]

The commands are:

	backup      create an ad-hoc backup of the database
	backups     list available backup artifacts
	check       verify the database file without modifying it
	export      write a consistent copy of the database to a path
	restore     replace the database with a backup
	run         open the database and serve the operational API
	vacuum      reclaim free space from the database file
	version     print the version
`[1:])
}

// VersionString returns the version & commit as a single string.
func VersionString() string {
	if Version != "" {
		return fmt.Sprintf("statdb %s, commit=%s", Version, Commit)
	} else if Commit != "" {
		return fmt.Sprintf("statdb commit=%s", Commit)
	}
	return "statdb development build"
}

// newDB builds an unopened DB from config.
func newDB(config Config) (*statdb.DB, error) {
	if config.DB.Path == "" {
		return nil, fmt.Errorf("database path required in config")
	}

	db := statdb.NewDB(config.DB.Path)
	db.MonitorInterval = config.DB.MonitorInterval
	db.DailyBackupEnabled = config.Backup.Daily
	db.RetentionDays = config.Backup.RetentionDays
	db.VacuumInterval = config.Vacuum.Interval

	if config.Vacuum.Threshold != "" {
		threshold, err := humanize.ParseBytes(config.Vacuum.Threshold)
		if err != nil {
			return nil, fmt.Errorf("invalid vacuum threshold %q: %w", config.Vacuum.Threshold, err)
		}
		db.VacuumThreshold = int64(threshold)
	}

	if config.S3.Bucket != "" {
		replica := s3.NewReplicaClient()
		replica.Endpoint = config.S3.Endpoint
		replica.Bucket = config.S3.Bucket
		replica.Prefix = config.S3.Prefix
		replica.AccessKeyID = config.S3.AccessKeyID
		replica.SecretAccessKey = config.S3.SecretAccessKey
		db.Replica = replica
	}

	return db, nil
}

// openDB builds a DB from config and opens it without background
// maintenance. Used by the short maintenance commands; the run command
// configures its own DB.
func openDB(ctx context.Context, config Config) (*statdb.DB, error) {
	db, err := newDB(config)
	if err != nil {
		return nil, err
	}
	db.MonitorInterval = 0
	db.DailyBackupEnabled = false

	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
