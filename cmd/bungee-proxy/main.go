package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/bungee-go/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Println(version.Info())
			os.Exit(0)
		case "--init":
			if err := runInit(); err != nil {
				log.Fatalf("init: %v", err)
			}
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if os.Getenv("BUNGEE_ROLE") == "worker" {
		err = runWorker(ctx)
	} else {
		err = runMaster(ctx)
	}
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func printUsage() {
	fmt.Printf("Bungee Proxy - %s\n\n", version.Short())
	fmt.Println("Usage: bungee-proxy [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --init         Generate a starter config.json")
	fmt.Println("  --version, -v  Show version information")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("Without options, starts the supervisor and its worker pool.")
	fmt.Println("BUNGEE_ROLE=worker runs a single worker directly, sharing the")
	fmt.Println("listening socket inherited from a parent supervisor; this is not")
	fmt.Println("meant to be set by hand outside of tests.")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  CONFIG_PATH selects the config document (default ./config.json")
	fmt.Println("  or ~/.bungee/config.json). Run 'bungee-proxy --init' to generate one.")
}

// logDir returns where the rotated JSON log file is written.
func logDir() string {
	if dir := os.Getenv("BUNGEE_LOG_DIR"); dir != "" {
		return dir
	}
	return "logs"
}
