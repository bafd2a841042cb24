// Command relayctl queries the local daemon over its control port.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Exit codes for `session status`: callers script against these.
const (
	exitActive  = 0
	exitStopped = 1
	exitUnknown = 2
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage(out io.Writer) {
	fmt.Fprintf(out, `relayctl
Usage:
  relayctl [-control HOST:PORT] <cmd> [args]

Commands:
  version
  daemon status|health             (exit 0 when the daemon answers)
  session status -id <session-id>  (exit 0 active, 1 stopped, 2 unknown)
`)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	fs.SetOutput(errOut)
	control := fs.String("control", "127.0.0.1:42139", "daemon control address")
	fs.Usage = func() { usage(errOut) }
	if err := fs.Parse(args); err != nil {
		return exitUnknown
	}
	if fs.NArg() < 1 {
		usage(errOut)
		return exitUnknown
	}

	client := &http.Client{Timeout: 5 * time.Second}
	base := "http://" + *control

	switch fs.Arg(0) {
	case "version":
		fmt.Fprintf(out, "relayctl %s (%s)\n", version, buildDate)
		return 0

	case "daemon":
		switch fs.Arg(1) {
		case "health", "status":
			return daemonHealth(client, base, out, errOut)
		default:
			usage(errOut)
			return exitUnknown
		}

	case "session":
		if fs.Arg(1) != "status" {
			usage(errOut)
			return exitUnknown
		}
		sub := flag.NewFlagSet("session status", flag.ContinueOnError)
		sub.SetOutput(errOut)
		id := sub.String("id", "", "session id")
		if err := sub.Parse(fs.Args()[2:]); err != nil {
			return exitUnknown
		}
		if *id == "" {
			fmt.Fprintln(errOut, "session status: -id is required")
			return exitUnknown
		}
		return sessionStatus(client, base, *id, out, errOut)

	default:
		usage(errOut)
		return exitUnknown
	}
}

func daemonHealth(client *http.Client, base string, out, errOut io.Writer) int {
	var health struct {
		Status   string `json:"status"`
		UptimeMS int64  `json:"uptimeMs"`
		Sessions int    `json:"sessions"`
	}
	if err := getJSON(client, base+"/health", &health); err != nil {
		fmt.Fprintf(errOut, "daemon unreachable: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "%s (uptime %s, %d sessions)\n",
		health.Status, time.Duration(health.UptimeMS)*time.Millisecond, health.Sessions)
	if health.Status != "ok" {
		return 1
	}
	return 0
}

func sessionStatus(client *http.Client, base, id string, out, errOut io.Writer) int {
	var status struct {
		SessionID string `json:"sessionId"`
		Status    string `json:"status"`
	}
	if err := getJSON(client, base+"/session/status?id="+url.QueryEscape(id), &status); err != nil {
		fmt.Fprintf(errOut, "daemon unreachable: %v\n", err)
		return exitUnknown
	}
	fmt.Fprintln(out, status.Status)
	switch status.Status {
	case "active":
		return exitActive
	case "stopped":
		return exitStopped
	default:
		return exitUnknown
	}
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
