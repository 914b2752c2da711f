package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/task"
	"github.com/OutllierRejects/reliefops/internal/triage"
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusText(s string) string {
	switch s {
	case "failed", "cancelled":
		return color.RedString(s)
	case "completed", "succeeded", "assigned", "sent":
		return color.GreenString(s)
	case "skipped":
		return color.HiBlackString(s)
	}
	return color.YellowString(s)
}

func levelText(l triage.Level) string {
	switch l {
	case triage.Critical:
		return color.New(color.FgRed, color.Bold).Sprint(l)
	case triage.High:
		return color.RedString(string(l))
	case triage.Medium:
		return color.YellowString(string(l))
	}
	return string(l)
}

func joinCategories(cs []triage.Category) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func printRequest(v *request.View) error {
	if *jsonOut {
		return printJSON(v)
	}
	if v == nil {
		return nil
	}
	w := newTable()
	fmt.Fprintf(w, "ID:\t%s\n", v.ID)
	fmt.Fprintf(w, "Title:\t%s\n", v.Title)
	fmt.Fprintf(w, "Status:\t%s\n", statusText(string(v.Status)))
	if v.Stage != "" {
		fmt.Fprintf(w, "Stage:\t%s\n", v.Stage)
	}
	if v.ReviewRequired {
		fmt.Fprintf(w, "Review:\t%s\n", color.YellowString("required"))
	}
	if in := v.Intake; in != nil {
		fmt.Fprintf(w, "Needs:\t%s\n", joinCategories(in.Needs))
		fmt.Fprintf(w, "Urgency:\t%s\n", levelText(in.Urgency))
		fmt.Fprintf(w, "Location:\t%s\n", in.Location)
		fmt.Fprintf(w, "Confidence:\t%.2f (%s)\n", in.Confidence, in.Source)
	}
	if p := v.Priority; p != nil {
		fmt.Fprintf(w, "Priority:\t%s (score %d)\n", levelText(p.Priority), p.Score)
		fmt.Fprintf(w, "Response:\t%s\n", p.EstimatedResponseTime)
	}
	if a := v.Assignment; a != nil {
		fmt.Fprintf(w, "Tasks:\t%s\n", strings.Join(a.TaskIDs, ", "))
		if !a.Fulfilled() {
			fmt.Fprintf(w, "Unfulfilled:\t%s\n", color.RedString(joinCategories(a.UnfulfilledNeeds)))
		}
	}
	if cm := v.Communication; cm != nil {
		fmt.Fprintf(w, "Notifications:\t%d\n", len(cm.NotificationIDs))
	}
	if f := v.Failure; f != nil {
		fmt.Fprintf(w, "Failure:\t%s at %s after %d attempt(s): %s\n", color.RedString(f.Code), f.Stage, f.Attempts, f.Reason)
	}
	if v.CancelReason != "" {
		fmt.Fprintf(w, "Cancelled:\t%s\n", v.CancelReason)
	}
	return w.Flush()
}

func printResources(rs ...*resource.Resource) error {
	if *jsonOut {
		return printJSON(rs)
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tKIND\tCAPABILITIES\tSTATUS\tLOAD")
	for _, r := range rs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\n", r.ID, r.Name, r.Kind, joinCategories(r.Capabilities),
			r.Status, r.ActiveTasks, r.MaxConcurrentTasks)
	}
	return w.Flush()
}

func printTasks(ts ...*task.Task) error {
	if *jsonOut {
		return printJSON(ts)
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tREQUEST\tASSIGNEE\tNEEDS\tPRIORITY\tSTATUS")
	for _, t := range ts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.RequestID, t.AssigneeName, joinCategories(t.Needs),
			levelText(t.Priority), statusText(string(t.Status)))
	}
	return w.Flush()
}
