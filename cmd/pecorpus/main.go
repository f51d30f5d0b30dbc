package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// errUnhealthy makes doctor exit non-zero without an extra error line.
var errUnhealthy = errors.New("host is not ready to crawl")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command := os.Args[1]; command {
	case "crawl":
		err = runCrawl(ctx, os.Args[2:])
	case "sanitize":
		err = runSanitize(ctx, os.Args[2:])
	case "doctor":
		err = runDoctor(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pecorpus - benign Windows PE corpus builder

Usage:
  pecorpus <command> [options]

Commands:
  crawl     Poll catalogs, download new artifacts and admit them to the corpus
  sanitize  Re-validate and scan every artifact already in the corpus
  doctor    Print host readiness: disk, external tools, catalog connectivity

Use "pecorpus <command> --help" for more information about a command.`)
}
