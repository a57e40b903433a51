// cmd/scenarioctl/main.go
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

const defaultBaseURL = "http://127.0.0.1:8002"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus()
	case "list":
		err = cmdList()
	case "validate":
		err = cmdValidate(args)
	case "reload":
		err = cmdReload()
	case "simulate":
		err = cmdSimulate(args)
	case "logs":
		err = cmdLogs(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`scenarioctl - control-plane client for scenariod

Usage: scenarioctl <command> [options]

Commands:
  status               Show engine status and health
  list                  List all loaded scenarios
  validate <file>       Validate a scenario JSON file against the control-plane API
  reload                Trigger a reload from disk
  simulate <room> <interaction> [flags...]
                        Simulate a trigger without dispatching
  logs [--limit N]      View recent engine log entries`)
}

func baseURL() string {
	if v := os.Getenv("SCENARIOCTL_URL"); v != "" {
		return v
	}
	return defaultBaseURL
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func get(path string) ([]byte, error) {
	resp, err := httpClient().Get(baseURL() + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	return body, nil
}

func postJSON(path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	resp, err := httpClient().Post(baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func printTable(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Repeat("─", 60))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func cmdStatus() error {
	body, err := get("/engine/status")
	if err != nil {
		return err
	}
	var status struct {
		Running         bool      `json:"running"`
		ScenariosLoaded int       `json:"scenarios_loaded"`
		LastExecution   time.Time `json:"last_execution"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("parsing status response: %w", err)
	}
	healthBody, err := get("/health")
	if err != nil {
		return err
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(healthBody, &health); err != nil {
		return fmt.Errorf("parsing health response: %w", err)
	}

	fmt.Println("Health:    ", health.Status)
	fmt.Println("Engine:    ", boolRunning(status.Running))
	fmt.Println("Scenarios: ", status.ScenariosLoaded)
	if !status.LastExecution.IsZero() {
		fmt.Println("Last run:  ", status.LastExecution.Format(time.RFC3339))
	}
	return nil
}

func boolRunning(b bool) string {
	if b {
		return "running"
	}
	return "stopped"
}

func cmdList() error {
	body, err := get("/scenarios")
	if err != nil {
		return err
	}
	var scenarios map[string]struct {
		Room            string `json:"room"`
		TimeBucket      string `json:"time_bucket"`
		DayType         string `json:"day_type"`
		InteractionType string `json:"interaction_type"`
		Actions         []struct {
			Service string `json:"service"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(body, &scenarios); err != nil {
		return fmt.Errorf("parsing scenarios response: %w", err)
	}

	fingerprints := make([]string, 0, len(scenarios))
	for fp := range scenarios {
		fingerprints = append(fingerprints, fp)
	}
	sort.Strings(fingerprints)

	rows := make([][]string, 0, len(fingerprints))
	for _, fp := range fingerprints {
		s := scenarios[fp]
		rows = append(rows, []string{fp, s.Room, s.DayType, fmt.Sprintf("%d actions", len(s.Actions))})
	}
	printTable([]string{"FINGERPRINT", "ROOM", "DAY", "ACTIONS"}, rows)
	return nil
}

func cmdValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: scenarioctl validate <file.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	var rule any
	if err := json.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("parsing %s as JSON: %w", args[0], err)
	}

	body, status, err := postJSON("/scenarios/validate", rule)
	if err != nil {
		return err
	}
	if status >= 400 {
		fmt.Printf("invalid (HTTP %d): %s\n", status, string(body))
		os.Exit(1)
	}
	var result struct {
		Errors []string
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing validate response: %w", err)
	}
	if len(result.Errors) > 0 {
		fmt.Printf("invalid: %s\n", strings.Join(result.Errors, "; "))
		os.Exit(1)
	}
	fmt.Println("valid")
	return nil
}

func cmdReload() error {
	_, status, err := postJSON("/engine/reload", nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("reload failed: HTTP %d", status)
	}
	fmt.Println("reloaded")
	return nil
}

func cmdSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: scenarioctl simulate <room> <interaction> [flag...]")
	}

	payload := map[string]any{
		"room":             rest[0],
		"interaction_type": rest[1],
		"optional_flags":   rest[2:],
	}
	body, status, err := postJSON("/engine/test-scenario", payload)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("simulate failed: HTTP %d: %s", status, string(body))
	}

	var result struct {
		Fingerprint    string `json:"fingerprint"`
		ScenarioFound  bool   `json:"scenario_found"`
		MatchedPattern string `json:"matched_pattern"`
		Fallback       bool   `json:"fallback"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing simulate response: %w", err)
	}

	fmt.Println("Fingerprint:", result.Fingerprint)
	if result.ScenarioFound {
		fmt.Println("Matched:    ", result.MatchedPattern, fallbackNote(result.Fallback))
	} else {
		fmt.Println("Matched:     no scenario found")
	}
	return nil
}

func fallbackNote(fallback bool) string {
	if fallback {
		return "(fallback)"
	}
	return "(exact)"
}

func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of log entries to show")
	fs.Parse(args)

	body, err := get(fmt.Sprintf("/logs?limit=%d", *limit))
	if err != nil {
		return err
	}
	var entries []struct {
		Level     string    `json:"level"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("parsing logs response: %w", err)
	}

	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp.Format(time.RFC3339), strings.ToUpper(e.Level), e.Message)
	}
	return nil
}
