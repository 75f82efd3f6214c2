package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled; anything else falls through to normal server startup.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("lanmeet server %s\n", Version)
		return true
	case "status":
		cliStatus(args[1:])
		return true
	default:
		return false
	}
}

// cliStatus queries a running server's status API and prints a summary.
func cliStatus(args []string) {
	flags := pflag.NewFlagSet("status", pflag.ExitOnError)
	apiAddr := flags.String("api-addr", "127.0.0.1:5006", "Status API address of the running server")
	flags.Parse(args)

	base := "http://" + *apiAddr

	var health struct {
		Status       string `json:"status"`
		Participants int    `json:"participants"`
	}
	var stats struct {
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
	var sess struct {
		Participants []struct {
			ID       uint32 `json:"id"`
			Username string `json:"username"`
		} `json:"participants"`
		Presenter *uint32 `json:"presenter"`
	}
	var files struct {
		Files []struct {
			FileID   uint32 `json:"file_id"`
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
			Uploader string `json:"uploader"`
		} `json:"files"`
		TotalBytes int64 `json:"total_bytes"`
	}
	for url, out := range map[string]any{
		base + "/health":      &health,
		base + "/api/stats":   &stats,
		base + "/api/session": &sess,
		base + "/api/files":   &files,
	} {
		if err := fetchJSON(url, out); err != nil {
			fmt.Fprintf(os.Stderr, "error querying %s: %v\n", *apiAddr, err)
			os.Exit(1)
		}
	}

	uptime := time.Duration(stats.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Printf("Server: %s\n", *apiAddr)
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Uptime: %s\n", uptime)
	fmt.Printf("Participants: %d\n", health.Participants)
	for _, p := range sess.Participants {
		marker := ""
		if sess.Presenter != nil && *sess.Presenter == p.ID {
			marker = " (presenting)"
		}
		fmt.Printf("  [%d] %s%s\n", p.ID, p.Username, marker)
	}
	fmt.Printf("Files: %d (%s)\n", len(files.Files), humanize.Bytes(uint64(files.TotalBytes)))
	for _, f := range files.Files {
		fmt.Printf("  [%d] %s, %s, from %s\n", f.FileID, f.Filename, humanize.Bytes(uint64(f.Size)), f.Uploader)
	}
	fmt.Printf("Version: %s\n", Version)
}

func fetchJSON(url string, out any) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
