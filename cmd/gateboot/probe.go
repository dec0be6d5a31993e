package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/benaskins/gateboot/internal/config"
	"github.com/benaskins/gateboot/internal/health"
)

var probeCmd = &cobra.Command{
	Use:   "probe [url]",
	Short: "Check the gateway health endpoint once",
	Long:  "Send one health request and report the HTTP status and readiness value. Defaults to the health URL in the config file.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().Duration("timeout", config.DefaultRequestTimeout, "request timeout")
	probeCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(probeCmd)
}

type probeResult struct {
	URL       string  `json:"url"`
	Ready     bool    `json:"ready"`
	Status    *int    `json:"http_status,omitempty"`
	Readiness *string `json:"readiness,omitempty"`
	LatencyMs int64   `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	jsonOut, _ := cmd.Flags().GetBool("json")

	var url string
	if len(args) > 0 {
		url = args[0]
	} else {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		url = cfg.Boot.HealthURL
	}

	res := health.NewProber(nil, slog.Default()).Check(context.Background(), url, timeout)
	out := probeResult{
		URL:       url,
		Ready:     res.OK,
		Status:    res.HTTPStatus,
		Readiness: res.Readiness,
		LatencyMs: res.Latency.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}

	if jsonOut {
		if err := printJSON(out); err != nil {
			return err
		}
	} else {
		state := "NOT READY"
		if res.OK {
			state = "READY"
		}
		fmt.Printf("%-9s %s (%s, %dms)\n", state, url, res, out.LatencyMs)
	}

	if !res.OK {
		return fmt.Errorf("gateway at %s is not ready", url)
	}
	return nil
}
