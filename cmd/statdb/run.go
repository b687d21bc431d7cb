package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"github.com/statdb/statdb"
	"github.com/statdb/statdb/http"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RunCommand represents a command to open the database and serve the
// operational API.
type RunCommand struct {
	cmd    *exec.Cmd  // subcommand
	execCh chan error // subcommand error channel

	Config Config

	DB         *statdb.DB
	HTTPServer *http.Server
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{
		execCh: make(chan error),
		Config: NewConfig(),
	}
}

func (c *RunCommand) Cmd() *exec.Cmd     { return c.cmd }
func (c *RunCommand) ExecCh() chan error { return c.execCh }

// ParseFlags parses the command line flags & config file.
func (c *RunCommand) ParseFlags(ctx context.Context, args []string) (err error) {
	// Split the args list if there is a double dash arg included. Arguments
	// after the double dash are used as the "exec" subprocess config option.
	args0, args1 := splitArgs(args)

	fs := flag.NewFlagSet("statdb-run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	noExpandEnv := fs.Bool("no-expand-env", false, "do not expand env vars in config")
	tracing := fs.Bool("tracing", false, "enable trace logging to stdout")
	fs.Usage = func() {
		fmt.Println(`
The run command opens the telemetry database and keeps it healthy: the file
is validated and recovered on open, migrations are applied, and backup &
vacuum maintenance runs unattended in the background. An HTTP API exposes
status, integrity, backup, and vacuum operations while it runs.

All options are specified in the statdb.yml config file which is searched
for in the present working directory, the current user's home directory,
and then finally at /etc/statdb.yml.

Usage:

	statdb run [arguments] [-- CMD [ARG...]]

Arguments:
`[1:])
		fs.PrintDefaults()
		fmt.Println("")
	}
	if err := fs.Parse(args0); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments, specify a '--' to specify an exec command")
	}

	if err := ParseConfigPath(ctx, *configPath, !*noExpandEnv, &c.Config); err != nil {
		return err
	}

	// Override "exec" field if specified on the CLI.
	if args1 != nil {
		c.Config.Exec = strings.Join(args1, " ")
	}

	if err := initLogger(c.Config.Log); err != nil {
		return err
	}

	// Enable trace logging, if specified. The config settings specify a rolling
	// on-disk log whereas the CLI flag specifies output to STDOUT.
	var tw io.Writer
	if c.Config.Tracing.Path != "" {
		log.Printf("trace log enabled: %s", c.Config.Tracing.Path)
		tw = &lumberjack.Logger{
			Filename:   c.Config.Tracing.Path,
			MaxSize:    c.Config.Tracing.MaxSize,
			MaxBackups: c.Config.Tracing.MaxCount,
			Compress:   c.Config.Tracing.Compress,
		}
	}
	if *tracing {
		if tw == nil {
			tw = os.Stdout
		} else {
			tw = io.MultiWriter(os.Stdout, tw)
		}
	}
	if tw != nil {
		statdb.TraceLog.SetOutput(tw)
	}

	return nil
}

// initLogger applies the log section of the config to the process logger.
func initLogger(config LogConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", config.Level)
	}
	logrus.SetLevel(level)

	switch config.Format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", config.Format)
	}
	return nil
}

func (c *RunCommand) Close() (err error) {
	if c.HTTPServer != nil {
		if e := c.HTTPServer.Close(); err == nil {
			err = e
		}
	}

	if c.DB != nil {
		if e := c.DB.Close(); err == nil {
			err = e
		}
	}

	return err
}

// Run executes the command.
func (c *RunCommand) Run(ctx context.Context) (err error) {
	fmt.Println(VersionString())

	if err := c.initDB(ctx); err != nil {
		return fmt.Errorf("cannot init database: %w", err)
	}

	if c.Config.HTTP.Addr != "" {
		if err := c.initHTTPServer(ctx); err != nil {
			return fmt.Errorf("cannot init http server: %w", err)
		}
		c.HTTPServer.Serve()
		log.Printf("http server listening on: %s", c.HTTPServer.URL())
	}

	// Execute subcommand, if specified in config.
	if err := c.execCmd(ctx); err != nil {
		return fmt.Errorf("cannot exec: %w", err)
	}

	return nil
}

func (c *RunCommand) initDB(ctx context.Context) error {
	db, err := newDB(c.Config)
	if err != nil {
		return err
	}
	if err := db.Open(ctx); err != nil {
		return err
	}
	c.DB = db

	log.Printf("database opened at: %s", db.Path())
	return nil
}

func (c *RunCommand) initHTTPServer(ctx context.Context) error {
	server := http.NewServer(c.DB, c.Config.HTTP.Addr)
	if err := server.Listen(); err != nil {
		return fmt.Errorf("cannot open http server: %w", err)
	}
	c.HTTPServer = server
	return nil
}

func (c *RunCommand) execCmd(ctx context.Context) error {
	// Exit if no subcommand specified.
	if c.Config.Exec == "" {
		return nil
	}

	// Execute subcommand process.
	args, err := shellwords.Parse(c.Config.Exec)
	if err != nil {
		return fmt.Errorf("cannot parse exec command: %w", err)
	}

	log.Printf("starting subprocess: %s %v", args[0], args[1:])

	c.cmd = exec.CommandContext(ctx, args[0], args[1:]...)
	c.cmd.Env = os.Environ()
	c.cmd.Stdout = os.Stdout
	c.cmd.Stderr = os.Stderr
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("cannot start exec command: %w", err)
	}
	go func() { c.execCh <- c.cmd.Wait() }()

	return nil
}
