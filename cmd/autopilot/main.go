// Command autopilot runs the phone-side flight controller: it reads sensor
// telemetry from the control board, runs the adaptive controller and sends
// motor commands back, while serving the setpoint API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/qphone/internal/api"
	"github.com/banshee-data/qphone/internal/config"
	"github.com/banshee-data/qphone/internal/db"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/serialmux"
	"github.com/banshee-data/qphone/internal/timeutil"
	"github.com/banshee-data/qphone/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Flight configuration JSON file")
	port        = flag.String("port", "", "Serial port to use, overriding the config file (ignored in dev mode)")
	devMode     = flag.Bool("dev", false, "Run against a simulated control board")
	disableLink = flag.Bool("disable-link", false, "Run without any control board link")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "", "Flight recorder database, overriding the config file; \"-\" disables recording")
	showVersion = flag.Bool("version", false, "Print version and exit")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
)

// loadConfig reads path, falling back to built-in defaults when the default
// file is absent.
func loadConfig(path string) (*config.FlightConfig, error) {
	cfg, err := config.LoadFlightConfig(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		log.Printf("no %s, using built-in defaults", path)
		return &config.FlightConfig{}, nil
	}
	return nil, err
}

// openLink returns the board link selected by the flags, plus any extra
// goroutine the link needs.
func openLink(cfg *config.FlightConfig, clock timeutil.Clock) (serialmux.SerialMuxInterface, func(context.Context) error, error) {
	switch {
	case *disableLink:
		return serialmux.NewDisabledSerialMux(), nil, nil
	case *devMode:
		board := serialmux.NewSimulatedBoard(clock, cfg.GetSimPeriod())
		return serialmux.NewSerialMux(board, cfg.GetMaxPacketSize()), board.Run, nil
	}
	path := cfg.GetSerialPort()
	if *port != "" {
		path = *port
	}
	link, err := serialmux.NewRealSerialMux(path, cfg.PortOptions(), cfg.GetMaxPacketSize())
	if err != nil {
		return nil, nil, err
	}
	return link, nil, nil
}

func recorderPath(cfg *config.FlightConfig) string {
	if *dbPath != "" {
		if *dbPath == "-" {
			return ""
		}
		return *dbPath
	}
	return cfg.GetDBPath()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("starting %s", version.String())

	clock := timeutil.RealClock{}

	link, linkRun, err := openLink(cfg, clock)
	if err != nil {
		log.Fatalf("failed to open board link: %v", err)
	}
	defer link.Close()

	var (
		database   *db.DB
		rec        *db.Recorder
		recorder   flight.Recorder
		recordings api.Recordings
	)
	if path := recorderPath(cfg); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		rec, err = db.NewRecorder(database, clock.Now(), version.Version, cfg, cfg.GetRecorderQueueDepth())
		if err != nil {
			log.Fatalf("failed to start flight recorder: %v", err)
		}
		recorder, recordings = rec, database
	}

	writer := serialmux.NewWriter(link, cfg.GetWriteQueueDepth())
	core, err := flight.NewCore(cfg.CoreConfig(), clock, writer, recorder)
	if err != nil {
		log.Fatalf("failed to build flight core: %v", err)
	}

	// Create a wait group for the link, controller, recorder and HTTP routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", name, err)
				stop()
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	if linkRun != nil {
		goRun("simulated board", linkRun)
	}
	goRun("link monitor", link.Monitor)
	goRun("link writer", writer.Run)

	id, chunks := link.Subscribe()
	defer link.Unsubscribe(id)
	goRun("flight core", func(ctx context.Context) error {
		return core.Run(ctx, chunks, link.Status())
	})

	if rec != nil {
		goRun("recorder", rec.Run)
		goRun("snapshots", func(ctx context.Context) error {
			ticker := clock.NewTicker(cfg.GetSnapshotInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case t := <-ticker.C():
					rec.RecordSnapshot(t, core.Status().Loop)
				}
			}
		})
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(core, recordings).ServeMux()
		link.AttachAdminRoutes(mux)
		core.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
			rec.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
