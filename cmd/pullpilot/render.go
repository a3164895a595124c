package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/schedule"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func printMode(w io.Writer, mode fleet.Mode) {
	if mode == fleet.ModeFallback {
		_, _ = fmt.Fprintln(w, "Gateway not reachable: showing simulated data.")
	}
}

func printUnits(w io.Writer, snap fleet.Snapshot) {
	printMode(w, snap.Mode)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tCONTAINERS\tEXCLUDED\tFULL STOP")
	for _, u := range snap.Units {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", u.Name, u.Status, u.Containers, yesNo(u.Excluded), yesNo(u.FullStop))
	}
	_ = tw.Flush()
	if snap.Progress.IsRunning {
		printProgress(w, snap.Progress)
	}
}

func printProgress(w io.Writer, p fleet.Progress) {
	if !p.IsRunning {
		_, _ = fmt.Fprintln(w, "No fleet update running.")
		return
	}
	_, _ = fmt.Fprintf(w, "Fleet update: %3d%% (%d/%d) %s\n", p.Percent(), p.Current, p.Total, p.CurrentUnit)
}

func printHistory(w io.Writer, records []fleet.HistoryRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No updates recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTIME\tSTATUS\tSUMMARY")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Timestamp.Local().Format("2006-01-02 15:04"), r.Status, r.Summary)
	}
	_ = tw.Flush()
}

func printSchedules(w io.Writer, items []fleet.Schedule, now time.Time) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(w, "No schedules.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTARGET\tWHEN\tEXPRESSION\tNEXT RUN")
	for _, s := range items {
		next := "-"
		if t, err := schedule.Next(s.Expression, now); err == nil {
			next = t.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Target, schedule.Format(s.Expression), s.Expression, next)
	}
	_ = tw.Flush()
}

func printProcessed(w io.Writer, p fleet.Progress) {
	names := make([]string, 0, len(p.Processed))
	for _, u := range p.Processed {
		names = append(names, u.Name+" "+u.Status)
	}
	if len(names) > 0 {
		_, _ = fmt.Fprintf(w, "  done: %s\n", strings.Join(names, ", "))
	}
}
