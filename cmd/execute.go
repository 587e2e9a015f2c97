// Package cmd contains the concierge's command-line entry points.
package cmd

import (
	"fmt"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point. It routes the first argument to a
// subcommand; the default is serve.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			return runServe()
		default:
			printHelp()
			return fmt.Errorf("unknown command: %s", os.Args[1])
		}
	}
	return runServe()
}

func printVersion() {
	fmt.Printf("concierge v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println(`concierge - conversational front end for a consulting practice

Usage:
  concierge [command]

Commands:
  serve      Start the HTTP API server (default)
  version    Print version information
  help       Show this help

Environment:
  GEMINI_API_KEY       API key for the language-model provider (required)
  CONCIERGE_ADDR       Listen address (default localhost:8080)
  CONCIERGE_DEBUG      Enable debug logging`)
}
