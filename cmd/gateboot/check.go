package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/gateboot/internal/config"
)

type checkResult struct {
	Path      string `json:"path"`
	Mode      string `json:"mode,omitempty"`
	Port      int    `json:"port,omitempty"`
	HealthURL string `json:"health_url,omitempty"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a gateboot config file",
	Long:  "Parse and validate a YAML config. Checks the given file, or the --config path, or ~/.gateboot/config.yaml.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := resolveConfigPath()
	if len(args) > 0 {
		target = args[0]
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("cannot access %s: %w", target, err)
	}

	result := checkResult{Path: target}
	cfg, err := config.Load(target)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
		result.Mode = cfg.Gateway.Mode
		result.Port = cfg.Gateway.Port
		result.HealthURL = cfg.Boot.HealthURL
	}

	if jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Printf("OK    %s (%s, port %d, %s)\n", result.Path, result.Mode, result.Port, result.HealthURL)
	} else {
		fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", result.Path, result.Error)
	}

	if !result.Valid {
		return fmt.Errorf("config failed validation")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
