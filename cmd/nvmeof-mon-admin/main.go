// NVMe-oF Monitor admin CLI
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
	"time"
)

func main() {
	// Subcommands
	addGwCmd := flag.NewFlagSet("add-gw", flag.ExitOnError)
	deleteGwCmd := flag.NewFlagSet("delete-gw", flag.ExitOnError)
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)
	viewCmd := flag.NewFlagSet("view", flag.ExitOnError)
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)

	// add-gw flags
	addMonitor := addGwCmd.String("monitor", "http://localhost:7440", "Monitor HTTP address")
	addPool := addGwCmd.String("pool", "", "Pool name (required)")
	addGroup := addGwCmd.String("group", "", "Group name (required)")
	addGw := addGwCmd.String("gw", "", "Gateway id (required)")

	// delete-gw flags
	delMonitor := deleteGwCmd.String("monitor", "http://localhost:7440", "Monitor HTTP address")
	delPool := deleteGwCmd.String("pool", "", "Pool name (required)")
	delGroup := deleteGwCmd.String("group", "", "Group name (required)")
	delGw := deleteGwCmd.String("gw", "", "Gateway id (required)")

	// show flags
	showMonitor := showCmd.String("monitor", "http://localhost:7440", "Monitor HTTP address")
	showJSON := showCmd.Bool("json", false, "Raw JSON output")

	// view flags
	viewMonitor := viewCmd.String("monitor", "http://localhost:7440", "Monitor HTTP address")
	viewPool := viewCmd.String("pool", "", "Pool name (required)")
	viewGroup := viewCmd.String("group", "", "Group name (required)")

	// status flags
	statusMonitor := statusCmd.String("monitor", "http://localhost:7440", "Monitor HTTP address")

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	switch os.Args[1] {
	case "add-gw":
		addGwCmd.Parse(os.Args[2:])
		requireFlags(map[string]string{"pool": *addPool, "group": *addGroup, "gw": *addGw})
		runAddGw(client, *addMonitor, *addPool, *addGroup, *addGw)
	case "delete-gw":
		deleteGwCmd.Parse(os.Args[2:])
		requireFlags(map[string]string{"pool": *delPool, "group": *delGroup, "gw": *delGw})
		runDeleteGw(client, *delMonitor, *delPool, *delGroup, *delGw)
	case "show":
		showCmd.Parse(os.Args[2:])
		runShow(client, *showMonitor, *showJSON)
	case "view":
		viewCmd.Parse(os.Args[2:])
		requireFlags(map[string]string{"pool": *viewPool, "group": *viewGroup})
		runView(client, *viewMonitor, *viewPool, *viewGroup)
	case "status":
		statusCmd.Parse(os.Args[2:])
		runStatus(client, *statusMonitor)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: nvmeof-mon-admin <command> [flags]

Commands:
  add-gw     Register a gateway in a (pool, group) scope
  delete-gw  Remove a gateway
  show       Dump the internal gateway map
  view       Show the initiator-visible ANA view of a group
  status     Show monitor health`)
}

func requireFlags(flags map[string]string) {
	missing := make([]string, 0, len(flags))
	for name, val := range flags {
		if val == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		fmt.Fprintf(os.Stderr, "missing required flags: %v\n", missing)
		os.Exit(1)
	}
}

func fatalHTTP(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
	os.Exit(1)
}

func decodeBody(resp *http.Response) map[string]any {
	body, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	json.Unmarshal(body, &out)
	return out
}

func runAddGw(client *http.Client, monitor, pool, group, gw string) {
	payload, _ := json.Marshal(map[string]string{"pool": pool, "group": group, "gw_id": gw})
	resp, err := client.Post(monitor+"/api/v1/gateways", "application/json", bytes.NewReader(payload))
	if err != nil {
		fatalHTTP("add-gw", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body := decodeBody(resp)
		fmt.Fprintf(os.Stderr, "add-gw rejected (%d): %v\n", resp.StatusCode, body["error"])
		os.Exit(1)
	}
	fmt.Printf("Gateway %s registered in %s/%s\n", gw, pool, group)
}

func runDeleteGw(client *http.Client, monitor, pool, group, gw string) {
	url := fmt.Sprintf("%s/api/v1/groups/%s/%s/gateways/%s", monitor, pool, group, gw)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		fatalHTTP("delete-gw", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		fatalHTTP("delete-gw", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body := decodeBody(resp)
		fmt.Fprintf(os.Stderr, "delete-gw rejected (%d): %v\n", resp.StatusCode, body["error"])
		os.Exit(1)
	}
	fmt.Printf("Gateway %s deleted from %s/%s\n", gw, pool, group)
}

type mapDump struct {
	Version uint64 `json:"version"`
	Groups  []struct {
		Pool     string `json:"pool"`
		Group    string `json:"group"`
		Gateways []struct {
			GatewayID     string     `json:"gw_id"`
			OwnedAnaGroup uint32     `json:"owned_ana_group"`
			Availability  string     `json:"availability"`
			States        [16]string `json:"sm_state"`
		} `json:"gateways"`
	} `json:"groups"`
}

func runShow(client *http.Client, monitor string, rawJSON bool) {
	resp, err := client.Get(monitor + "/api/v1/map")
	if err != nil {
		fatalHTTP("show", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalHTTP("show", err)
	}

	if rawJSON {
		os.Stdout.Write(body)
		return
	}

	var dump mapDump
	if err := json.Unmarshal(body, &dump); err != nil {
		fatalHTTP("show", err)
	}

	fmt.Printf("Map version: %d\n", dump.Version)
	for _, g := range dump.Groups {
		fmt.Printf("\nGroup %s/%s:\n", g.Pool, g.Group)
		fmt.Printf("  %-20s %-10s %-12s %s\n", "GATEWAY", "ANA-GRP", "AVAIL", "NON-STANDBY CELLS")
		for _, gw := range g.Gateways {
			owned := fmt.Sprintf("%d", gw.OwnedAnaGroup)
			if gw.OwnedAnaGroup == 0xFF {
				owned = "redundant"
			}
			cells := ""
			for i, st := range gw.States {
				if st != "Standby" {
					if cells != "" {
						cells += ", "
					}
					cells += fmt.Sprintf("%d=%s", i, st)
				}
			}
			if cells == "" {
				cells = "-"
			}
			fmt.Printf("  %-20s %-10s %-12s %s\n", gw.GatewayID, owned, gw.Availability, cells)
		}
	}
}

func runView(client *http.Client, monitor, pool, group string) {
	url := fmt.Sprintf("%s/api/v1/groups/%s/%s/view", monitor, pool, group)
	resp, err := client.Get(url)
	if err != nil {
		fatalHTTP("view", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := decodeBody(resp)
		fmt.Fprintf(os.Stderr, "view rejected (%d): %v\n", resp.StatusCode, body["error"])
		os.Exit(1)
	}

	var view map[string]struct {
		OwnedAnaGroup uint32               `json:"owned_ana_group"`
		Version       uint64               `json:"version"`
		Subsystems    map[string][16]int32 `json:"subsystems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		fatalHTTP("view", err)
	}

	gws := make([]string, 0, len(view))
	for gw := range view {
		gws = append(gws, gw)
	}
	sort.Strings(gws)

	fmt.Printf("Exported ANA view of %s/%s:\n", pool, group)
	for _, gw := range gws {
		st := view[gw]
		fmt.Printf("  %s (ana-grp %d, version %d):\n", gw, st.OwnedAnaGroup, st.Version)
		nqns := make([]string, 0, len(st.Subsystems))
		for nqn := range st.Subsystems {
			nqns = append(nqns, nqn)
		}
		sort.Strings(nqns)
		for _, nqn := range nqns {
			optimized := ""
			for i, s := range st.Subsystems[nqn] {
				if s == 0 { // optimized
					if optimized != "" {
						optimized += ","
					}
					optimized += fmt.Sprintf("%d", i)
				}
			}
			if optimized == "" {
				optimized = "none"
			}
			fmt.Printf("    %-40s optimized groups: %s\n", nqn, optimized)
		}
	}
}

func runStatus(client *http.Client, monitor string) {
	resp, err := client.Get(monitor + "/healthz")
	if err != nil {
		fatalHTTP("status", err)
	}
	defer resp.Body.Close()
	body := decodeBody(resp)
	fmt.Printf("Status:      %v\n", body["status"])
	fmt.Printf("Cluster:     %v\n", body["cluster_id"])
	fmt.Printf("Instance:    %v\n", body["instance_id"])
	fmt.Printf("Map version: %v\n", body["map_version"])
}
