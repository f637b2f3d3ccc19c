package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/zoobzio/profz"
)

// printTree writes the tree with one indented line per entry.
func printTree(w io.Writer, entries []profz.Entry, depth int) {
	for _, e := range entries {
		label := e.Name
		if e.Category != "" {
			label += " [" + e.Category + "]"
		}
		fmt.Fprintf(w, "%s%-*s %10.2fms  x%d\n", strings.Repeat("  ", depth), 40-2*depth, label, e.Time, e.Count)
		printTree(w, e.Children, depth+1)
	}
}

// printTotals writes flat totals as a table, at most limit rows when limit > 0.
func printTotals(w io.Writer, totals []profz.Total, limit int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCALLS\tTOTAL\tMEAN")
	for i, t := range totals {
		if limit > 0 && i >= limit {
			break
		}
		mean := 0.0
		if t.Count > 0 {
			mean = t.Time / float64(t.Count)
		}
		fmt.Fprintf(tw, "%s\t%d\t%.3fms\t%.3fms\n", t.Name, t.Count, t.Time*1000, mean*1000)
	}
	return tw.Flush()
}

func printReport(w io.Writer, r profz.Report) {
	fmt.Fprintf(w, "%s  %s  %s  (%v)\n", r.ID, r.Name, r.Start.Format("2006-01-02 15:04:05.000"), r.Duration)
	if r.ForceClosed > 0 {
		fmt.Fprintf(w, "force-closed spans: %d\n", r.ForceClosed)
	}
	printTree(w, r.Tree, 0)
}
