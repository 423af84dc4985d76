// Package main implements the sparkify-etl binary. It reads song and event
// log JSON from the input root and writes the songs, artists, users, time
// and songplays tables as partitioned Parquet under the output root.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sparkify/datalake/internal/app"
	"github.com/sparkify/datalake/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sparkify-etl - build the Sparkify data lake from song and event logs\n\n")
		fmt.Fprintf(os.Stderr, "Usage: sparkify-etl [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sparkify-etl\n")
		fmt.Fprintf(os.Stderr, "  sparkify-etl --config /etc/sparkify/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SPARKIFY_INPUT_DATA         Input root (s3a://bucket/prefix or local path)\n")
		fmt.Fprintf(os.Stderr, "  SPARKIFY_OUTPUT_DATA        Output root\n")
		fmt.Fprintf(os.Stderr, "  SPARKIFY_CREDENTIALS_FILE   Key/value file with AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY\n")
		fmt.Fprintf(os.Stderr, "  SPARKIFY_WORK_DIR           Scratch directory for the engine database and downloads\n")
		fmt.Fprintf(os.Stderr, "  SPARKIFY_STORAGE_*          Region, endpoint, path style, concurrency, part size\n")
		fmt.Fprintf(os.Stderr, "  SPARKIFY_LOG_LEVEL          debug, info, warn, error\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("sparkify-etl version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the config file (or the defaults) and the environment.
func loadConfig(configFile string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)
	return cfg, nil
}
