package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeolun/ripplechat/pkg/bus"
	"github.com/aeolun/ripplechat/pkg/client"
	"github.com/aeolun/ripplechat/pkg/client/ui"
	"github.com/aeolun/ripplechat/pkg/session"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Command line flags
	configPath := flag.String("config", client.DefaultConfigPath(), "Path to config file")
	serverURL := flag.String("server", "", "Server URL, e.g. ws://localhost:8080/ws (overrides config)")
	username := flag.String("user", "", "Username to register with (overrides config)")
	debugLog := flag.String("debug-log", "", "Write debug log to this file")
	metricsAddr := flag.String("metrics", "", "Serve client metrics on this address, e.g. localhost:9100")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Ripplechat %s\n", Version)
		os.Exit(0)
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Invalid config %s:\n%v\n", cfgErr.Path, cfgErr)
			os.Exit(1)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	if *serverURL != "" {
		config.Connection.ServerURL = *serverURL
	}
	if *username != "" {
		config.Identity.Username = *username
	}
	name := strings.TrimSpace(config.Identity.Username)
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		log.Fatalf("No username: pass -user or set [identity] username in %s", *configPath)
	}

	// The TUI owns the terminal, so logs go to a file or nowhere
	logger := log.New(io.Discard, "", 0)
	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open debug log: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	}

	registry := prometheus.NewRegistry()
	metrics := client.NewMetrics(registry)
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	b := bus.New()
	defer b.Close()

	conn := client.NewConnection(config.Connection.ServerURL, client.Options{
		Username:  name,
		Bus:       b,
		Dialer:    config.Dialer(),
		QueueSize: config.Connection.SendQueueSize,
		Reconnect: config.ReconnectPolicy(),
		Metrics:   metrics,
		Logger:    logger,
	})

	reducer := session.NewReducer(session.Config{
		Username: name,
		Sender:   conn,
		Avatars:  config.Avatars(),
		Reporter: metrics.ObserveSessionError,
		Logger:   logger,
	})
	reducer.Attach(b)

	if err := conn.Connect(context.Background()); err != nil {
		if !config.Connection.AutoReconnect {
			log.Fatalf("Failed to connect to %s: %v", config.Connection.ServerURL, err)
		}
		// The UI shows the retries
		logger.Printf("Initial connect failed, retrying: %v", err)
	}
	defer conn.Close()

	model := ui.NewModel(conn, reducer, ui.Options{
		NotifyMentions:   config.UI.NotifyMentions,
		ShowImagesInline: config.UI.ShowImagesInline,
		Logger:           logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
