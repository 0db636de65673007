package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/pushbridge/internal/config"
	"github.com/mattjoyce/pushbridge/internal/doctor"
)

type configCheckResult struct {
	Valid    bool           `json:"valid"`
	Path     string         `json:"path,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Locked   bool           `json:"locked"`
	Error    string         `json:"error,omitempty"`
	Report   *doctor.Result `json:"report,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	result := checkConfig(*configPath)
	if *strict && result.Report != nil && len(result.Report.Warnings) > 0 {
		result.Valid = false
	}

	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else if result.Report != nil {
		fmt.Printf("config: %s\n", result.Path)
		fmt.Printf("provider: %s\n", result.Provider)
		if result.Locked {
			fmt.Println("integrity: locked")
		} else {
			fmt.Println("integrity: unlocked (run 'pushbridge config lock' to record hashes)")
		}
		fmt.Print(doctor.FormatHuman(result.Report))
	} else {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %s\n", result.Error)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

// checkConfig loads (and so verifies) the config, then reviews it.
func checkConfig(configPath string) configCheckResult {
	cfg, err := config.Load(configPath)
	if err != nil {
		return configCheckResult{Error: err.Error()}
	}
	_, err = config.LoadChecksums(cfgDir(cfg))
	report := doctor.New(cfg).Validate()
	return configCheckResult{
		Valid:    report.Valid,
		Path:     cfg.Path,
		Provider: cfg.Provider.Kind,
		Locked:   err == nil,
		Report:   report,
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	verbose := fs.Bool("verbose", false, "Print each hashed file")
	fs.BoolVar(verbose, "v", false, "Print each hashed file (shorthand)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadUnverified(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	locked, err := config.Lock(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if *verbose {
		for _, f := range locked {
			fmt.Printf("%s  %s\n", f.Hash, f.Name)
		}
	}
	fmt.Printf("Locked %d file(s) in %s\n", len(locked), cfgDir(cfg))
	return 0
}

func cfgDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Path)
}
