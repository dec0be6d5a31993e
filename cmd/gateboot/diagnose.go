package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/gateboot/internal/config"
	"github.com/benaskins/gateboot/internal/launcher"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the configured gateway can launch",
	Long:  "Check the gateway command or image, the port, and the health endpoint. Runs without the daemon.",
	RunE:  runDoctor,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the running gateway serves",
	RunE:  runModels,
}

var connectionCmd = &cobra.Command{
	Use:   "connection",
	Short: "Show the URLs clients should use to reach the gateway",
	RunE:  runConnection,
}

func init() {
	doctorCmd.Flags().Bool("json", false, "output as JSON")
	modelsCmd.Flags().Bool("json", false, "output as JSON")
	connectionCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(connectionCmd)
}

// doctorChecks runs the checks for the config at path. A config that does
// not validate is reported as the only check.
func doctorChecks(ctx context.Context, path string) []launcher.Check {
	cfg, err := config.Load(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return []launcher.Check{{
			Title:   "Gateway configuration",
			Status:  launcher.CheckError,
			Details: err.Error(),
			Fix:     "Run gateboot check to see what the config file is missing.",
		}}
	}
	return launcher.New(cfg, launcher.Options{}).Doctor(ctx)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	checks := doctorChecks(ctx, resolveConfigPath())

	if jsonOut {
		if err := printJSON(map[string][]launcher.Check{"checks": checks}); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tCHECK\tDETAILS")
		for _, c := range checks {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Status, c.Title, c.Details)
			if c.Fix != "" {
				fmt.Fprintf(w, "\t\tfix: %s\n", c.Fix)
			}
		}
		w.Flush()
	}

	for _, c := range checks {
		if c.Status == launcher.CheckError {
			return fmt.Errorf("doctor found problems")
		}
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	var resp struct {
		Data  []json.RawMessage `json:"data"`
		Error string            `json:"error"`
	}
	if err := apiGet("/v1/gateway/models", &resp); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}
	if resp.Error != "" {
		return fmt.Errorf("gateway models request failed: %s", resp.Error)
	}
	if len(resp.Data) == 0 {
		fmt.Println("No models reported")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNED BY")
	for _, raw := range resp.Data {
		var m struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		}
		json.Unmarshal(raw, &m)
		owner := m.OwnedBy
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", m.ID, owner)
	}
	return w.Flush()
}

func runConnection(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	c := launcher.New(cfg, launcher.Options{}).Connection()
	if jsonOut {
		return printJSON(c)
	}
	fmt.Printf("Base URL:      %s\n", c.BaseURL)
	fmt.Printf("Health:        %s\n", c.Endpoints.Health)
	fmt.Printf("LLM example:   %s\n", c.Endpoints.LLMExample)
	fmt.Printf("STT example:   %s\n", c.Endpoints.STTExample)
	return nil
}
