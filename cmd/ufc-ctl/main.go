package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8080", "unionfs-cleaner API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("ufc-ctl %s\n", version)
	case "status":
		cmdStatus(*addr)
	case "tombstones":
		cmdTombstones(*addr)
	case "scan":
		cmdScan(*addr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ufc-ctl - unionfs-cleaner management CLI

Usage:
  ufc-ctl [flags] <command>

Commands:
  status       Show daemon and write-back status
  tombstones   List tombstones whose remote delete failed
  scan         Run a reconciliation scan now
  version      Show version

Flags:
  -addr string   API address (default "http://localhost:8080")`)
}

func cmdStatus(addr string) {
	resp, err := http.Get(addr + "/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdTombstones(addr string) {
	resp, err := http.Get(addr + "/v1/tombstones")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var entries []struct {
		Marker      string    `json:"marker"`
		RemotePath  string    `json:"remote_path"`
		Attempts    int       `json:"attempts"`
		LastFailure time.Time `json:"last_failure"`
		LastError   string    `json:"last_error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("no failed deletes")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REMOTE_PATH\tATTEMPTS\tLAST_FAILURE\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			e.RemotePath, e.Attempts, e.LastFailure.Format(time.RFC3339), e.LastError)
	}
	w.Flush()
}

func cmdScan(addr string) {
	resp, err := http.Post(addr+"/v1/admin/scan", "", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "scan failed: %s\n", resp.Status)
		printJSON(resp.Body)
		os.Exit(1)
	}
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
