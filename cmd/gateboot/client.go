package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/gateboot/internal/api"
	"github.com/benaskins/gateboot/internal/boot"
	"github.com/benaskins/gateboot/internal/history"
)

func apiClient() *http.Client {
	socketPath := defaultSocketPath()
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://gateboot" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is gateboot daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiPost(path string) (boot.Snapshot, error) {
	var snap boot.Snapshot
	resp, err := apiClient().Post("http://gateboot"+path, "application/json", nil)
	if err != nil {
		return snap, fmt.Errorf("connecting to daemon: %w (is gateboot daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return snap, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decoding response: %w", err)
	}
	return snap, nil
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show boot state and gateway process",
	RunE: func(cmd *cobra.Command, args []string) error {
		var view api.GatewayView
		if err := apiGet("/v1/gateway", &view); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPHASE\tATTEMPTS\tHTTP\tELAPSED\tPROGRESS\tPROCESS\tPID\tPORT")
		run := "-"
		if view.RunID > 0 {
			run = strconv.FormatUint(view.RunID, 10)
		}
		httpStatus := "-"
		if view.LastHTTPStatus != nil {
			httpStatus = strconv.Itoa(*view.LastHTTPStatus)
		}
		process, pid, port := "-", "-", "-"
		if p := view.Process; p != nil {
			process = p.Status
			if !p.Managed && p.Status == "running" {
				process += " (adopted)"
			}
			if p.PID > 0 {
				pid = strconv.Itoa(p.PID)
			}
			port = strconv.Itoa(p.Port)
		}
		elapsed := (time.Duration(view.ElapsedMs) * time.Millisecond).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.0f%%\t%s\t%s\t%s\n",
			run, view.Phase, view.Attempts, httpStatus, elapsed, view.Progress*100, process, pid, port)
		w.Flush()

		if view.Phase == boot.PhaseError && view.Error != "" {
			fmt.Printf("\nerror: %s\n", view.Error)
		}
		return nil
	},
}

func snapshotCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := apiPost(path)
			if err != nil {
				return err
			}
			if snap.RunID > 0 {
				fmt.Printf("run #%d: %s\n", snap.RunID, snap.Phase)
			} else {
				fmt.Println(snap.Phase)
			}
			return nil
		},
	}
}

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent launcher and gateway output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		var resp struct {
			Logs []string `json:"logs"`
		}
		if err := apiGet("/v1/gateway/logs?n="+strconv.Itoa(n), &resp); err != nil {
			return err
		}
		for _, line := range resp.Logs {
			fmt.Println(line)
		}
		return nil
	},
}

// runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent boot runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var runs []history.Record
		if err := apiGet("/v1/gateway/runs", &runs); err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPHASE\tATTEMPTS\tSTARTED\tDURATION\tERROR")
		for i := len(runs) - 1; i >= 0; i-- {
			r := runs[i]
			started, duration := "-", "-"
			if r.StartedAt > 0 {
				started = time.UnixMilli(r.StartedAt).Format(time.DateTime)
				duration = (time.Duration(r.FinishedAt-r.StartedAt) * time.Millisecond).Round(time.Second).String()
			}
			errText := r.Error
			if errText == "" {
				errText = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", r.RunID, r.Phase, r.Attempts, started, duration, errText)
		}
		w.Flush()
		return nil
	},
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(snapshotCmd("start", "Start a boot run on the daemon", "/v1/gateway/start"))
	rootCmd.AddCommand(snapshotCmd("cancel", "Cancel the current run and stop the gateway", "/v1/gateway/cancel"))
	rootCmd.AddCommand(snapshotCmd("reset", "Return the daemon to idle", "/v1/gateway/reset"))
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(runsCmd)
}
