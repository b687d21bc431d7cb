package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/statdb/statdb"
)

var (
	mode             = flag.String("mode", "", "benchmark mode")
	seed             = flag.Int64("seed", 0, "prng seed")
	iter             = flag.Int("iter", 0, "number of iterations")
	maxEventsPerIter = flag.Int("max-events-per-iter", 10, "maximum number of events per iteration")
	iterPerSec       = flag.Float64("iter-per-sec", 0, "iterations per second")
)

// models is the pool of model names events are attributed to.
var models = []string{"small", "medium", "large", "xlarge"}

func main() {
	flag.Usage = Usage

	if err := run(context.Background()); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return flag.ErrHelp
	} else if flag.NArg() > 1 {
		return fmt.Errorf("too many arguments")
	} else if *mode == "" {
		return fmt.Errorf("required: -mode MODE")
	}

	// Initialize PRNG.
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	fmt.Printf("running statdb-bench: seed=%d\n", *seed)

	// Open database. Maintenance is disabled so the loop below is the
	// only writer activity.
	db := statdb.NewDB(flag.Arg(0))
	db.MonitorInterval = 0
	db.DailyBackupEnabled = false
	if err := db.Open(ctx); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Begin monitoring stats.
	go monitor(ctx)

	// Enforce rate limit.
	rate := time.Nanosecond
	if *iterPerSec > 0 {
		rate = time.Duration(float64(time.Second) / *iterPerSec)
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	// Execute once for each iteration.
	for i := 0; *iter == 0 || i < *iter; i++ {
		rand := rand.New(rand.NewSource(*seed + int64(i)))

		select {
		case <-ctx.Done():
			return context.Cause(ctx)

		case <-ticker.C:
			var err error
			switch *mode {
			case "record":
				err = runRecordIter(ctx, db, rand)
			case "report":
				err = runReportIter(ctx, db, rand)
			default:
				return fmt.Errorf("invalid bench mode: %q", *mode)
			}
			if err != nil {
				return fmt.Errorf("iter %d: %w", i, err)
			}
		}
	}

	if err := db.Close(); err != nil {
		return err
	}

	return nil
}

// runRecordIter runs a single "record" iteration.
func runRecordIter(ctx context.Context, db *statdb.DB, rand *rand.Rand) error {
	eventN := rand.Intn(*maxEventsPerIter) + 1
	for i := 0; i < eventN; i++ {
		event := statdb.QueryEvent{
			Model:            models[rand.Intn(len(models))],
			PromptTokens:     rand.Int63n(4096),
			CompletionTokens: rand.Int63n(1024),
			DurationMS:       rand.Int63n(30000),
		}
		if err := db.RecordQueryEvent(ctx, &event); err != nil {
			return fmt.Errorf("record(%d): %w", i, err)
		}
	}

	// Open and immediately close a session periodically.
	if rand.Intn(10) == 0 {
		session, err := db.StartAutoRunSession(ctx, "bench")
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		if err := db.EndAutoRunSession(ctx, session.ID, "completed"); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
	}

	// Fold today's events into the rollup periodically.
	if rand.Intn(100) == 0 {
		if err := db.RebuildDailyUsage(ctx, statdb.FormatDay(time.Now())); err != nil {
			return fmt.Errorf("rebuild daily usage: %w", err)
		}
	}

	// Update stats on success.
	statsMu.Lock()
	defer statsMu.Unlock()
	stats.IterN++
	stats.EventN += eventN

	return nil
}

// runReportIter runs a single "report" iteration.
func runReportIter(ctx context.Context, db *statdb.DB, rand *rand.Rand) error {
	since := time.Now().Add(-time.Duration(rand.Intn(60)) * time.Minute)
	limit := rand.Intn(*maxEventsPerIter) + 1

	events, err := db.QueryEventsSince(ctx, since, limit)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	if _, err := db.EarliestTimestamp(ctx); err != nil {
		return fmt.Errorf("earliest timestamp: %w", err)
	}

	// Update stats on success.
	statsMu.Lock()
	defer statsMu.Unlock()
	stats.IterN++
	stats.EventN += len(events)

	return nil
}

// monitor periodically prints stats.
func monitor(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	prevTime := time.Now()
	var prev Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statsMu.Lock()
			curr := stats
			statsMu.Unlock()

			currTime := time.Now()
			elapsed := currTime.Sub(prevTime).Seconds()

			log.Printf("stats: iter/sec=%0.03f events/sec=%0.03f",
				float64(curr.IterN-prev.IterN)/elapsed,
				float64(curr.EventN-prev.EventN)/elapsed,
			)

			prev, prevTime = curr, currTime
		}
	}
}

var statsMu sync.Mutex
var stats Stats

type Stats struct {
	IterN  int
	EventN int
}

func Usage() {
	fmt.Printf(`
statdb-bench is a tool for simulating telemetry load against a stats database.

Usage:

	statdb-bench [arguments] PATH

Modes:

	record       continuous query event & session writes
	report       continuous short reads over recent events

Arguments:

`[1:])
	flag.PrintDefaults()
	fmt.Println()
}
