// Command roommapper drives an RPLidar A-series sensor, accumulates a
// filtered 2D point cloud of the room, and serves it over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lidarworks/roommapper/internal/api"
	"github.com/lidarworks/roommapper/internal/config"
	"github.com/lidarworks/roommapper/internal/mapper"
	"github.com/lidarworks/roommapper/internal/mapperdb"
	"github.com/lidarworks/roommapper/internal/rplidar"
	"github.com/lidarworks/roommapper/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (defaults apply when empty)")
	port       = flag.String("port", "", "Serial port override, e.g. /dev/ttyUSB0")
	listen     = flag.String("listen", "", "Listen address override, e.g. :8080")
	mock       = flag.Bool("mock", false, "Use the simulated sensor instead of hardware")
	autostart  = flag.Bool("autostart", false, "Begin scanning immediately instead of waiting for POST /api/start")
)

func loadConfig() config.Config {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *port != "" {
		cfg.Sensor.Port = *port
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *mock {
		cfg.Sensor.Mock = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

func main() {
	flag.Parse()
	log.Printf("roommapper %s", version.String())
	cfg := loadConfig()

	var dev mapper.Device
	if cfg.Sensor.Mock {
		log.Print("using simulated sensor")
		dev = rplidar.NewMockDevice()
	} else {
		dev = rplidar.NewSerialDevice(cfg.Sensor.Port, cfg.Sensor.Baud)
	}

	db, err := mapperdb.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	recorder := mapperdb.NewRecorder(db, cfg.Sensor.Port)
	session, err := mapper.NewSession(mapper.SessionConfig{
		Device:           dev,
		Store:            mapper.NewPointStore(cfg.Pipeline.StoreCapacity),
		Observers:        []mapper.Observer{recorder},
		Filter:           cfg.Filter(),
		TickInterval:     cfg.Pipeline.TickInterval(),
		DecimationFactor: cfg.Pipeline.Decimation,
		ErrorThreshold:   cfg.Pipeline.ErrorThreshold,
	})
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	recorder.Bind(session)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *autostart {
		if err := session.Start(ctx); err != nil {
			log.Fatalf("failed to start scanning: %v", err)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(session, db).ServeMux()
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: h,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish, then stop any in-flight scan so the
	// final snapshot and session row land in the database.
	wg.Wait()
	session.Stop()
	log.Printf("Graceful shutdown complete")
}
