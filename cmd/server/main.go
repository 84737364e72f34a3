package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/ripplechat/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.ripplechat/server.toml", "Path to config file")
	listen := flag.String("listen", "", "Address to listen on, e.g. :8080 (overrides config)")
	transcriptPath := flag.String("transcript", "", "Path to SQLite transcript database (overrides config)")
	pprofAddr := flag.String("pprof", "", "Serve pprof on this address, e.g. localhost:6060")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Ripplechat Server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *listen != "" {
		tomlConfig.Server.ListenAddr = *listen
	}
	if *transcriptPath != "" {
		tomlConfig.Server.TranscriptDB = *transcriptPath
	}

	config := tomlConfig.ToConfig()

	srv, err := server.New(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s (using defaults if not found)", *configPath)
	if config.TranscriptDB != "" {
		log.Printf("Transcript: %s", config.TranscriptDB)
	} else {
		log.Printf("Transcript disabled")
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Ripplechat server %s started successfully", Version)
	log.Printf("Metrics: http://%s%s", srv.Addr(), config.MetricsPath)
	if config.TranscriptDB != "" {
		log.Printf("Transcript API: http://%s/transcript", srv.Addr())
	}

	if *pprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
