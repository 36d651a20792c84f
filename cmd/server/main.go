// Package main is the entry point for the blendmidi API server
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/james-see/blendmidi/pkg/api"
	"github.com/james-see/blendmidi/pkg/config"
	"github.com/james-see/blendmidi/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Config file path")
	port := flag.Int("port", 0, "Server port (default from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.API.Port = *port
	}

	metrics := telemetry.NewMetrics()
	level, _ := telemetry.ParseLevel(cfg.Log.Level)
	logger, async := telemetry.NewLogger(os.Stderr, telemetry.LoggerOptions{
		Level:  level,
		JSON:   cfg.Log.JSON,
		Buffer: cfg.Log.Buffer,
		OnDrop: metrics.LogDropped.Inc,
	})
	defer async.Close()

	fmt.Printf("Starting blendmidi API server on port %d...\n", cfg.API.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.API.Port)

	svc := &api.Service{
		Logger:    logger,
		Metrics:   metrics,
		BlockSize: uint32(cfg.Backend.BlockSize),
	}
	if err := api.StartServer(cfg.API.Port, svc); err != nil {
		async.Close()
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
