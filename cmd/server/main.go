package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GriffinCanCode/webshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/server"
	"github.com/GriffinCanCode/webshell/internal/providers/auth"
)

func main() {
	// Parse flags
	port := flag.String("port", "", "Server port (overrides PORT)")
	dev := flag.Bool("dev", false, "Development mode (colored debug logs)")
	hashToken := flag.Bool("hash-token", false, "Read a token from stdin, print its bcrypt hash for AUTH_TOKENS and exit")
	flag.Parse()

	if *hashToken {
		if err := printTokenHash(); err != nil {
			log.Fatalf("Failed to hash token: %v", err)
		}
		return
	}

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// CLI flags override env vars
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}

func printTokenHash() error {
	token, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && token == "" {
		return err
	}
	hash, err := auth.HashToken(strings.TrimRight(token, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
