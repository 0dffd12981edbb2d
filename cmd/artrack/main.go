package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/holoplane/artrack/internal/config"
	"github.com/holoplane/artrack/internal/engine"
	"github.com/holoplane/artrack/internal/trackdb"
)

var (
	sourceConfig = flag.String("source", "synthetic:file=fixtures.txt,loop=true", "Frame source configuration")
	dbFile       = flag.String("db", "track.db", "Tracking database path")
	migrations   = flag.String("migrations", "db/migrations", "Migrations directory")
	tuningFile   = flag.String("tuning", "", "Tuning JSON file (optional)")
	assetRoot    = flag.String("assets", ".", "Root directory for trackable assets")
	trackables   = flag.String("trackables", "", "Comma-separated trackable configuration strings")
	rate         = flag.Duration("rate", 33*time.Millisecond, "Resolve tick interval")
	record       = flag.Bool("record", false, "Record resolved poses to the database")
	verbose      = flag.Bool("verbose", false, "Enable diagnostic logging")
)

func main() {
	flag.Parse()

	if flag.Arg(0) == "migrate" {
		if err := runMigrate(flag.Args()[1:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	writers := engine.LogWriters{Ops: os.Stderr}
	if *verbose {
		writers.Diag = os.Stderr
	}
	engine.SetLogWriters(writers)

	tuning := config.Empty()
	if *tuningFile != "" {
		var err error
		tuning, err = config.Load(*tuningFile)
		if err != nil {
			log.Fatalf("failed to load tuning file: %v", err)
		}
	}

	session, err := engine.NewSession(tuning, engine.FileLoader{Root: *assetRoot})
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	defer session.Shutdown()

	if err := session.Init(); err != nil {
		log.Fatalf("failed to initialize session: %v", err)
	}

	db, err := trackdb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	for _, cfg := range splitTrackables(*trackables) {
		h, err := session.Register(cfg)
		if err != nil {
			log.Fatalf("failed to register trackable %q: %v", cfg, err)
		}
		log.Printf("registered trackable %d: %s", h, cfg)
		if err := db.RecordEvent(session.ID(), "register", cfg); err != nil {
			log.Printf("failed to record register event: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(*sourceConfig); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	if err := db.RecordSessionStart(session.ID(), *sourceConfig); err != nil {
		log.Printf("failed to record session start: %v", err)
	}

	log.Printf("session %s tracking on %q", session.ID(), *sourceConfig)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			// The session stops itself when the source fails; exit the
			// resolve loop rather than spinning on ErrNotReady.
			if session.Phase() != engine.PhaseRunning {
				log.Printf("session left running state: %s", session.Phase())
				break loop
			}
			fresh, err := session.CaptureFrame()
			if err != nil || !fresh {
				continue
			}
			results := session.ResolveAll()
			if *record {
				seq := session.Stats().Pipeline.LastSeq
				for _, res := range results {
					if err := db.RecordPose(session.ID(), seq, int32(res.Handle), res.Visible, [16]float64(res.Pose)); err != nil {
						log.Printf("failed to record pose: %v", err)
					}
				}
			}
		}
	}

	if session.Phase() == engine.PhaseRunning {
		if err := session.Stop(); err != nil {
			log.Printf("failed to stop session: %v", err)
		}
	}
	if err := db.RecordSessionStop(session.ID()); err != nil {
		log.Printf("failed to record session stop: %v", err)
	}

	stats := session.Stats()
	log.Printf("session %s finished: %d frames published, %d captured, %d dropped, %d resolve passes",
		stats.SessionID, stats.Pipeline.Published, stats.Pipeline.Captured,
		stats.Pipeline.Dropped, stats.Pipeline.Resolved)
	if stats.LastRunError != "" {
		log.Printf("source error: %s", stats.LastRunError)
	}
}

// splitTrackables splits the -trackables flag. Configuration strings use
// semicolons internally, so commas separate entries.
func splitTrackables(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runMigrate handles the "migrate <up|down|status|to <version>>" subcommand.
func runMigrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: artrack migrate <up|down|status|to <version>>")
	}

	db, err := trackdb.NewDB(*dbFile)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "up":
		if err := db.MigrateUp(*migrations); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(*migrations); err != nil {
			return err
		}
	case "status":
		version, dirty, err := db.MigrateVersion(*migrations)
		if err != nil {
			return err
		}
		latest, err := trackdb.GetLatestMigrationVersion(*migrations)
		if err != nil {
			return err
		}
		log.Printf("database version %d (dirty=%v), latest available %d", version, dirty, latest)
		return nil
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("usage: artrack migrate to <version>")
		}
		var version uint
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("bad version %q", args[1])
		}
		if err := db.MigrateTo(*migrations, version); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}

	version, dirty, err := db.MigrateVersion(*migrations)
	if err != nil {
		return err
	}
	log.Printf("database now at version %d (dirty=%v)", version, dirty)
	return nil
}
