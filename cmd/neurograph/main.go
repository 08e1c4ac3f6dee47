package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sanonone/neurograph/internal/server"
	"github.com/sanonone/neurograph/pkg/engine"
)

func main() {
	httpAddr := flag.String("http-addr", ":9091", "Address and port for the REST API server (e.g. :9091)")
	dataDir := flag.String("data-dir", "./neurograph-data", "Directory for the activation log and snapshot")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	authToken := flag.String("auth-token", "", "Bearer token protecting the API (empty disables auth)")

	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}

	// The config file overrides the flag defaults where it sets a value.
	addr := *httpAddr
	if cfg.Addr != "" {
		addr = cfg.Addr
	}
	token := *authToken
	if cfg.AuthToken != "" {
		token = cfg.AuthToken
	}

	opts, err := cfg.EngineOptions(*dataDir)
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}

	eng, err := engine.Open(opts)
	if err != nil {
		log.Fatalf("Could not open the engine: %v", err)
	}

	srv := server.NewServer(eng, addr, token)

	// Listen for the interrupt signal (Ctrl+C).
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	// Run the HTTP server in a goroutine so main can wait on the signal.
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal(err)
		}
	}()

	<-shutdownChan

	// Clean shutdown: stop accepting requests, then flush and close the log.
	srv.Shutdown()
	if err := eng.Close(); err != nil {
		log.Printf("Engine close error: %v", err)
	}
}
