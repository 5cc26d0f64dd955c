package main

import (
	"flag"
	"fmt"
	"os"

	"ssw-flow-tracer/internal/app"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	// Check environment variable for the config file path if not provided via flag
	if configFile == "" {
		if envConfigFile := os.Getenv("SSW_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/app/configs/config.yaml"
		}
	}

	fmt.Printf("Using configuration file: %s\n", configFile)

	application, err := app.New(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
