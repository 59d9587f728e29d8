// Package cli renders rampart's status API and query store contents as
// terminal tables for the operator subcommands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/health"
	"github.com/rampart-project/rampart/internal/server"
	"github.com/rampart-project/rampart/internal/util"
)

// Report is the body of GET /api/status.
type Report struct {
	Version string          `json:"version"`
	Service server.Status   `json:"service"`
	System  util.SystemInfo `json:"system"`
	Healthy *bool           `json:"healthy,omitempty"`
	Checks  []health.Check  `json:"checks,omitempty"`
}

// Client reads the local status API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API listening on addr (host:port).
// A wildcard bind address is dialled on loopback.
func NewClient(addr string) *Client {
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches the current status report.
func (c *Client) Status(ctx context.Context) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach status API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status API returned %s", resp.Status)
	}

	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}
	return &r, nil
}

// RenderStatus writes the service, player, playback and download tables.
func RenderStatus(w io.Writer, r *Report) {
	st := r.Service

	fmt.Fprintf(w, "rampart %s on %s (%s/%s)\n\n", r.Version, r.System.Hostname, r.System.OS, r.System.Architecture)

	tw := newTable(w, []string{"Field", "Value"})
	tw.Append([]string{"Uptime", st.Uptime})
	tw.Append([]string{"Engine", orDash(st.EngineAddr)})
	tw.Append([]string{"Players", fmt.Sprintf("%d", st.PlayerCount)})
	tw.Append([]string{"Packets routed", fmt.Sprintf("%d", st.Routed)})
	tw.Append([]string{"Packets sent", fmt.Sprintf("%d", st.Sent)})
	tw.Append([]string{"Query store", enabled(st.StoreEnabled)})
	tw.Append([]string{"Tick lag", fmt.Sprintf("%s (%d overruns last hour, max %.1fms)", st.Lag.Level, st.Lag.OverrunsHour, st.Lag.MaxMS)})
	if r.Healthy != nil {
		tw.Append([]string{"Health", healthLabel(*r.Healthy)})
	}
	tw.Render()

	if len(r.Checks) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w, []string{"Check", "Healthy", "Detail"})
		for _, c := range r.Checks {
			tw.Append([]string{c.Name, yesNo(c.Healthy), orDash(c.Detail)})
		}
		tw.Render()
	}

	fmt.Fprintln(w)
	if len(st.Players) == 0 {
		fmt.Fprintln(w, "No players connected")
	} else {
		tw = newTable(w, []string{"Slot", "Name", "Team", "Level", "Muted", "GUID"})
		for _, p := range st.Players {
			tw.Append([]string{
				fmt.Sprintf("%d", p.Slot),
				p.Name,
				p.Team.String(),
				fmt.Sprintf("%d", p.Level),
				yesNo(p.Muted),
				p.GUID,
			})
		}
		tw.Render()
	}

	snd := st.Sound
	fmt.Fprintln(w)
	if snd.Name != "" {
		fmt.Fprintf(w, "Playback: %s '%s' for slot %d (frame %d/%d)\n", snd.State, snd.Name, snd.Slot, snd.Cursor, snd.Total)
	} else {
		fmt.Fprintf(w, "Playback: %s\n", snd.State)
	}

	if len(snd.Downloads) > 0 {
		tw = newTable(w, []string{"Download", "Slot", "Name", "State", "Started"})
		for _, d := range snd.Downloads {
			tw.Append([]string{
				d.ID,
				fmt.Sprintf("%d", d.Slot),
				d.Name,
				d.State,
				d.Started.Format(time.RFC3339),
			})
		}
		tw.Render()
	}
}

// RenderOverrides writes the command overrides of one GUID.
func RenderOverrides(w io.Writer, guid string, list []db.CommandOverride) {
	if len(list) == 0 {
		fmt.Fprintf(w, "No command overrides for %s\n", guid)
		return
	}
	tw := newTable(w, []string{"Command", "Access"})
	for _, o := range list {
		access := "denied"
		if o.Allowed {
			access = "allowed"
		}
		tw.Append([]string{o.Command, access})
	}
	tw.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func healthLabel(ok bool) string {
	if ok {
		return "healthy"
	}
	return "UNHEALTHY"
}
