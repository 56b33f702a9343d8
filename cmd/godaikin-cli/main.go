package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	baseURL := resolveBaseURL()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "units":
		unitsCmd(ctx, baseURL)
	case "unit":
		unitCmd(ctx, baseURL, os.Args[2:])
	case "health":
		healthCmd(ctx, baseURL)
	default:
		usage()
		os.Exit(2)
	}
}

type unitDetail struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Connected    bool   `json:"connected"`
	LastSyncedAt string `json:"last_synced_at"`
	State        struct {
		Power       bool    `json:"Power"`
		Mode        string  `json:"Mode"`
		TargetTemp  int     `json:"TargetTemp"`
		CurrentTemp float64 `json:"CurrentTemp"`
		OutdoorTemp float64 `json:"OutdoorTemp"`
		FanSpeed    string  `json:"FanSpeed"`
		PowerWatts  float64 `json:"PowerWatts"`
		EnergyKwh   float64 `json:"EnergyKwh"`
	} `json:"state"`
	MoldProof struct {
		Enabled    bool   `json:"enabled"`
		Stage      string `json:"stage"`
		RemainingS int64  `json:"remaining_s"`
	} `json:"mold_proof"`
}

func unitsCmd(ctx context.Context, baseURL string) {
	var units []unitDetail
	getJSON(ctx, baseURL+"/v1/units", &units)

	rows := [][]string{{"ID", "NAME", "ONLINE", "POWER", "MODE", "TARGET", "INDOOR", "WATTS"}}
	for _, u := range units {
		rows = append(rows, []string{
			u.ID,
			u.Name,
			fmt.Sprintf("%t", u.Connected),
			onOff(u.State.Power),
			u.State.Mode,
			fmt.Sprintf("%d", u.State.TargetTemp),
			fmt.Sprintf("%.1f", u.State.CurrentTemp),
			fmt.Sprintf("%.0f", u.State.PowerWatts),
		})
	}
	printTable(rows)
}

func unitCmd(ctx context.Context, baseURL string, args []string) {
	if len(args) < 1 {
		fatal("unit", fmt.Errorf("missing unit id or name"))
	}

	var units []unitDetail
	getJSON(ctx, baseURL+"/v1/units", &units)

	id, err := resolveUnit(args[0], units)
	if err != nil {
		fatal("unit", err)
	}

	var detail unitDetail
	getJSON(ctx, baseURL+"/v1/units/"+id, &detail)
	printJSON(detail)
}

func healthCmd(ctx context.Context, baseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		fatal("health", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal("health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatal("health", fmt.Errorf("status %d", resp.StatusCode))
	}
	fmt.Println("ok")
}

func getJSON(ctx context.Context, url string, out any) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fatal("request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal("request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		fatal("request", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		fatal("decode response", err)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func resolveBaseURL() string {
	if value := os.Getenv("GODAIKIN_HTTP_ADDR"); value != "" {
		return "http://" + value
	}
	return "http://localhost:8080"
}

func usage() {
	fmt.Println("godaikin-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  units            list registered units")
	fmt.Println("  unit <id|name>   show one unit as JSON")
	fmt.Println("  health           check the bridge is up")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
