// Package main provides trustvaultctl, the operator CLI for a running
// trustvaultd instance: register and inspect agents, pull drift scores, and
// manage webhook subscriptions, all over the same HTTP API external callers
// use.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var (
	serverURL string
	apiKey    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trustvaultctl",
	Short: "TrustVault operator CLI",
	Long: `trustvaultctl is the command-line interface for a running TrustVault
server. It registers and inspects agents, reads drift scores, and manages
webhook subscriptions over the same HTTP API external callers use.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("trustvaultctl")
		viper.AutomaticEnv()
		if serverURL == "" {
			serverURL = viper.GetString("server")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "TrustVault server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Agent API key, required for agent-scoped commands")

	rootCmd.AddCommand(agentsCmd, driftCmd, webhooksCmd, versionCmd)
	agentsCmd.AddCommand(agentsRegisterCmd, agentsVerifyCmd, agentsGetCmd, agentsListCmd)
	driftCmd.AddCommand(driftScoreCmd, driftPingCmd)
	webhooksCmd.AddCommand(webhooksListCmd, webhooksRegisterCmd)
}

// ── HTTP client ──────────────────────────────────────────────────────────────

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{baseURL: serverURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ── agents ───────────────────────────────────────────────────────────────────

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agent identities",
}

var (
	regName        string
	regOwnerEmail  string
	regPermissions []string
)

var agentsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Agent  json.RawMessage `json:"agent"`
			APIKey string          `json:"api_key"`
		}
		req := map[string]any{
			"name":        regName,
			"owner_email": regOwnerEmail,
			"permissions": regPermissions,
		}
		if err := newAPIClient().do(cmd.Context(), http.MethodPost, "/v1/agents/register", req, &result); err != nil {
			return err
		}
		fmt.Println("Agent registered.")
		fmt.Printf("  API key: %s\n\n", result.APIKey)
		fmt.Println("This key is shown once. Store it securely.")
		return nil
	},
}

func init() {
	agentsRegisterCmd.Flags().StringVar(&regName, "name", "", "Agent display name")
	agentsRegisterCmd.Flags().StringVar(&regOwnerEmail, "email", "", "Owner email address")
	agentsRegisterCmd.Flags().StringSliceVar(&regPermissions, "permissions", nil, "Comma-separated permission list")
	_ = agentsRegisterCmd.MarkFlagRequired("name")
	_ = agentsRegisterCmd.MarkFlagRequired("email")
}

var agentsVerifyCmd = &cobra.Command{
	Use:   "verify <agent-id>",
	Short: "Verify an agent's API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKey == "" {
			return fmt.Errorf("--api-key is required")
		}
		var agent json.RawMessage
		req := map[string]any{"agent_id": args[0], "api_key": apiKey}
		if err := newAPIClient().do(cmd.Context(), http.MethodPost, "/v1/agents/verify", req, &agent); err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var agentsGetCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Show an agent's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var agent json.RawMessage
		if err := newAPIClient().do(cmd.Context(), http.MethodGet, "/v1/agents/"+args[0], nil, &agent); err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var agentsListStatus string

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/agents"
		if agentsListStatus != "" {
			path += "?status=" + agentsListStatus
		}
		var result json.RawMessage
		if err := newAPIClient().do(cmd.Context(), http.MethodGet, path, nil, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	agentsListCmd.Flags().StringVar(&agentsListStatus, "status", "", "Filter by status")
}

// ── drift ────────────────────────────────────────────────────────────────────

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Inspect and report agent drift",
}

var driftScoreCmd = &cobra.Command{
	Use:   "score <agent-id>",
	Short: "Show an agent's current drift score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Score      *float64 `json:"score"`
			LastPingAt *string  `json:"last_ping_at,omitempty"`
			Trend      string   `json:"trend,omitempty"`
		}
		if err := newAPIClient().do(cmd.Context(), http.MethodGet, "/v1/drift/"+args[0]+"/drift-score", nil, &result); err != nil {
			return err
		}
		if result.Score == nil {
			fmt.Println("no pings recorded yet")
			return nil
		}
		fmt.Printf("Score: %.4f\n", *result.Score)
		if result.Trend != "" {
			fmt.Printf("Trend: %s\n", result.Trend)
		}
		if result.LastPingAt != nil {
			fmt.Printf("Last ping: %s\n", *result.LastPingAt)
		}
		return nil
	},
}

var driftPingMetrics []string

var driftPingCmd = &cobra.Command{
	Use:   "ping <agent-id>",
	Short: "Submit a health ping (metrics as key=value pairs)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKey == "" {
			return fmt.Errorf("--api-key is required")
		}
		metrics := map[string]float64{}
		for _, kv := range driftPingMetrics {
			key, raw, found := strings.Cut(kv, "=")
			if !found || key == "" {
				return fmt.Errorf("invalid metric %q, expected key=value", kv)
			}
			val, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("invalid metric %q, expected key=value: %w", kv, err)
			}
			metrics[key] = val
		}
		var result json.RawMessage
		req := map[string]any{"metrics": metrics}
		if err := newAPIClient().do(cmd.Context(), http.MethodPost, "/v1/drift/"+args[0]+"/health-ping", req, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	driftPingCmd.Flags().StringSliceVar(&driftPingMetrics, "metric", nil, "metric=value pair, repeatable")
}

// ── webhooks ─────────────────────────────────────────────────────────────────

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Manage webhook subscriptions",
}

var webhooksListCmd = &cobra.Command{
	Use:   "list <agent-id>",
	Short: "List webhook endpoints for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKey == "" {
			return fmt.Errorf("--api-key is required")
		}
		var result struct {
			Webhooks []struct {
				ID       string   `json:"id"`
				URL      string   `json:"url"`
				Events   []string `json:"events"`
				IsActive bool     `json:"is_active"`
			} `json:"webhooks"`
		}
		if err := newAPIClient().do(cmd.Context(), http.MethodGet, "/v1/agents/"+args[0]+"/webhooks", nil, &result); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tEVENTS\tACTIVE")
		for _, e := range result.Webhooks {
			fmt.Fprintf(w, "%s\t%s\t%v\t%t\n", e.ID, e.URL, e.Events, e.IsActive)
		}
		return w.Flush()
	},
}

var (
	whURL    string
	whEvents []string
)

var webhooksRegisterCmd = &cobra.Command{
	Use:   "register <agent-id>",
	Short: "Register a webhook endpoint for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKey == "" {
			return fmt.Errorf("--api-key is required")
		}
		var result struct {
			Endpoint json.RawMessage `json:"endpoint"`
			Secret   string          `json:"secret"`
		}
		req := map[string]any{"url": whURL, "events": whEvents}
		if err := newAPIClient().do(cmd.Context(), http.MethodPost, "/v1/agents/"+args[0]+"/webhooks", req, &result); err != nil {
			return err
		}
		fmt.Println("Webhook registered.")
		fmt.Printf("  Secret: %s\n\n", result.Secret)
		fmt.Println("This secret is shown once. Use it to verify delivery signatures.")
		return nil
	},
}

func init() {
	webhooksRegisterCmd.Flags().StringVar(&whURL, "url", "", "Endpoint URL")
	webhooksRegisterCmd.Flags().StringSliceVar(&whEvents, "events", nil, "Comma-separated event names")
	_ = webhooksRegisterCmd.MarkFlagRequired("url")
	_ = webhooksRegisterCmd.MarkFlagRequired("events")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trustvaultctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trustvaultctl %s\n", version)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
