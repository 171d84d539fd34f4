package main

import (
	"os"

	"grimm.is/humangym/cmd"
	"grimm.is/humangym/internal/brand"
	"grimm.is/humangym/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmd.RunServe(os.Args[2:])

	case "worker":
		// Internal: one session over stdio (spawned by serve)
		err = cmd.RunWorker(os.Args[2:])

	case "counters":
		err = cmd.RunCounters(os.Args[2:])

	case "config":
		err = cmd.RunConfig(os.Args[2:])

	case "upload":
		err = cmd.RunUpload(os.Args[2:])

	case "version":
		printer.Printf("%s %s (%s, built %s)\n", brand.Name, brand.Version, brand.GitCommit, brand.BuildTime)

	case "help", "-h", "--help":
		if len(os.Args) > 2 && os.Args[2] == "config" {
			err = cmd.RunConfig([]string{"help"})
		} else {
			printUsage()
		}

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		printer.Fprintf(os.Stderr, "%s %s: %v\n", brand.LowerName, os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  serve     Accept websocket sessions and run trials
            Options: --listen (-l) <addr>, --config (-c) <file>, --dev,
                     --reset-counters, --isolation process|goroutine,
                     --max-conns <n>, --allow-origin <origin>
  counters  Show the trial rotation counters
            Options: --db <file>, --json
  config    Manage the trial configuration
            Subcommands: check, init, fmt
  upload    Upload a recording to S3
            Options: --bucket, --project, --user, --no-compress
  version   Print version information

Examples:
  %s serve --dev                    # Plain HTTP, uploads skipped
  %s serve -c trial.hcl             # TLS with fullchain.pem/privkey.pem
  %s config check .trialConfig.yml
  %s counters

For command-specific help: %s help <command>
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.LowerName, brand.LowerName, brand.LowerName, brand.LowerName,
		brand.LowerName)
}
