package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/gymtable/gymtable-backend/internal/extractor"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/service"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
)

func printExtraction(w io.Writer, r extractor.DirReport) {
	headerColor.Fprintln(w, "Extraction")
	okColor.Fprintf(w, "  written:    %d\n", len(r.Written))
	fmt.Fprintf(w, "  up to date: %d\n", len(r.UpToDate))
	if len(r.Failed) == 0 {
		return
	}
	failColor.Fprintf(w, "  failed:     %d\n", len(r.Failed))
	for _, f := range r.Failed {
		failColor.Fprintf(w, "    %s: %s\n", filepath.Base(f.Path), f.Err)
	}
}

func printAggregation(w io.Writer, s service.AggregateSummary) {
	headerColor.Fprintln(w, "Aggregation")
	fmt.Fprintf(w, "  classes: %d from %d files\n", s.Classes, s.Sources)
	fmt.Fprintf(w, "  output:  %s\n", s.Output)
	for _, sk := range s.Skipped {
		warnColor.Fprintf(w, "  skipped %s: %s\n", filepath.Base(sk.Path), sk.Err)
	}
}

func printStats(w io.Writer, s model.BatchStats) {
	headerColor.Fprintln(w, "Store")
	okColor.Fprintf(w, "  inserted: %d\n", s.Inserted)
	fmt.Fprintf(w, "  updated:  %d\n", s.Updated)
}

func printClasses(w io.Writer, filter string, classes []model.ClassRecord) {
	headerColor.Fprintf(w, "%s (%d)\n", filter, len(classes))
	if len(classes) == 0 {
		warnColor.Fprintln(w, "No classes found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tDAY\tTIME\tACTIVITY\tVENUE\tTYPE\tVACANCY")
	for _, c := range classes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Date, c.DayOfWeek, c.Timeslot, c.Activity, c.Venue, c.ClassType, vacancy(c.Vacancy))
	}
	tw.Flush()
}

func printSummary(w io.Writer, counts []model.ActivityCount) {
	headerColor.Fprintf(w, "Activities (%d)\n", len(counts))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVITY\tCLASSES")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\n", c.Activity, c.Count)
	}
	tw.Flush()
}

// vacancy renders full classes in red. It is the last column, so colour
// codes never skew the alignment.
func vacancy(n int) string {
	s := strconv.Itoa(n)
	if n == 0 {
		return failColor.Sprint(s)
	}
	return s
}
