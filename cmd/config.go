package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/humangym/internal/brand"
	"grimm.is/humangym/internal/config"
)

// ErrNotCanonical is returned by config fmt when the file would change.
var ErrNotCanonical = errors.New("configuration is not canonically formatted")

// RunConfig handles trial configuration commands.
func RunConfig(args []string) error {
	if len(args) < 1 {
		printConfigUsage()
		return errors.New("missing config subcommand")
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "init":
		return runConfigInit(args[1:])
	case "fmt":
		return runConfigFmt(args[1:])
	case "help":
		printConfigUsage()
		return nil
	default:
		printConfigUsage()
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func printConfigUsage() {
	Printer.Printf(`Usage: %s config <command> [options]

Commands:
  check [file]        Validate a trial configuration (YAML or HCL)
  init [-o file.hcl]  Write a default configuration in HCL
  fmt [-w] <file>     Show differences from the canonical HCL rendering
`, brand.BinaryName)
}

func configArg(flags *flag.FlagSet) string {
	if flags.NArg() > 0 {
		return flags.Arg(0)
	}
	return brand.GetConfigPath()
}

func runConfigCheck(args []string) error {
	flags := flag.NewFlagSet("config check", flag.ExitOnError)
	verbose := flags.Bool("verbose", false, "Print the effective configuration")
	flags.BoolVar(verbose, "v", false, "Verbose output (short)")
	flags.Parse(args)

	path := configArg(flags)
	cfg, err := loadTrialConfig(path)
	if err != nil {
		return err
	}

	Printer.Printf("%s %s\n", StyleStatusGood.Render("Configuration valid:"), path)
	Printer.Printf("Trial types: %s\n", strings.Join(cfg.TrialTypes, ", "))
	Printer.Printf("Episodes per trial: %d\n", cfg.MaxEpisodes)
	Printer.Printf("Recording: %s mode in %s\n", recordingMode(cfg), cfg.DataDir)
	if cfg.S3Upload {
		Printer.Printf("Uploads: s3://%s/%s/Trials/\n", cfg.Bucket, cfg.ProjectID)
	}
	if *verbose {
		Printer.Println()
		os.Stdout.Write(config.MarshalHCL(cfg))
	}
	return nil
}

func recordingMode(cfg *config.TrialConfig) string {
	if cfg.TrialMode() {
		return config.DataFileTrial
	}
	return config.DataFileEpisode
}

func runConfigInit(args []string) error {
	flags := flag.NewFlagSet("config init", flag.ExitOnError)
	output := flags.String("o", "trial.hcl", "Output file")
	force := flags.Bool("force", false, "Overwrite an existing file")
	flags.Parse(args)

	if filepath.Ext(*output) != ".hcl" {
		return fmt.Errorf("output must end in .hcl: %s", *output)
	}
	if _, err := os.Stat(*output); err == nil && !*force {
		return fmt.Errorf("%s exists (use -force to overwrite)", *output)
	}
	if err := config.WriteHCLFile(*output, config.Default()); err != nil {
		return err
	}
	Printer.Printf("Wrote %s\n", *output)
	return nil
}

func runConfigFmt(args []string) error {
	flags := flag.NewFlagSet("config fmt", flag.ExitOnError)
	write := flags.Bool("w", false, "Write the canonical form back (HCL files only)")
	flags.Parse(args)

	path := configArg(flags)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	diff, canonical, err := FormatDiff(path, data)
	if err != nil {
		return err
	}
	if diff == "" {
		Printer.Println("Already canonical.")
		return nil
	}
	if *write {
		if filepath.Ext(path) != ".hcl" {
			return fmt.Errorf("-w only rewrites .hcl files; use config init to convert %s", path)
		}
		return os.WriteFile(path, canonical, 0o644)
	}
	fmt.Print(diff)
	return ErrNotCanonical
}

// FormatDiff returns a unified diff from data to its canonical HCL
// rendering, and the canonical bytes. An empty diff means no change.
func FormatDiff(path string, data []byte) (string, []byte, error) {
	var (
		cfg *config.TrialConfig
		err error
	)
	if filepath.Ext(path) == ".hcl" {
		cfg, err = config.LoadHCL(data, path)
	} else {
		cfg, err = config.LoadYAML(data)
	}
	if err != nil {
		return "", nil, err
	}

	canonical := config.MarshalHCL(cfg)
	if string(canonical) == string(data) {
		return "", canonical, nil
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(data)),
		B:        difflib.SplitLines(string(canonical)),
		FromFile: path,
		ToFile:   "canonical",
		Context:  3,
	})
	if err != nil {
		return "", nil, err
	}
	return diff, canonical, nil
}
