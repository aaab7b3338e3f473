package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"queryguard/internal/types"
)

var (
	faint   = color.New(color.Faint)
	success = color.New(color.FgGreen)
	failure = color.New(color.FgRed)
)

func statusColor(s types.QueryStatus) *color.Color {
	switch s {
	case types.StatusPending:
		return color.New(color.FgYellow)
	case types.StatusResponded:
		return color.New(color.FgGreen)
	case types.StatusEscalatedLevel2:
		return color.New(color.FgMagenta)
	case types.StatusEscalatedLevel3:
		return color.New(color.FgRed, color.Bold)
	}
	return faint
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// respondedTiers lists the tiers that have acknowledged q, e.g. "CS,MANAGER".
func respondedTiers(q *types.Query) string {
	out := ""
	for _, t := range types.Tiers {
		if !q.RespondedAt(t) {
			continue
		}
		if out != "" {
			out += ","
		}
		out += shortTier(t)
	}
	if out == "" {
		return "-"
	}
	return out
}

func shortTier(t types.Tier) string {
	if t == types.TierCustomerSupport {
		return "CS"
	}
	return string(t)
}

func printQuery(w io.Writer, q *types.Query) {
	fmt.Fprintf(w, "Query: %s\n", q.ID)
	fmt.Fprintf(w, "Status: %s\n", statusColor(q.Status).Sprint(q.Status))
	fmt.Fprintf(w, "Level: %s\n", q.EscalationLevel)
	fmt.Fprintf(w, "From: %s <%s>\n", q.Name, q.Email)
	if q.Phone != nil {
		fmt.Fprintf(w, "Phone: %s\n", *q.Phone)
	}
	if q.Subject != nil {
		fmt.Fprintf(w, "Subject: %s\n", *q.Subject)
	}
	fmt.Fprintf(w, "Message: %s\n", q.Message)
	fmt.Fprintf(w, "Responded: %s\n", respondedTiers(q))
	fmt.Fprintf(w, "Created: %s\n", formatTime(&q.CreatedAt))
	if q.EscalatedToManagerAt != nil {
		fmt.Fprintf(w, "Escalated to manager: %s\n", formatTime(q.EscalatedToManagerAt))
	}
	if q.EscalatedToCEOAt != nil {
		fmt.Fprintf(w, "Escalated to CEO: %s\n", formatTime(q.EscalatedToCEOAt))
	}
	fmt.Fprintf(w, "Last check: %s\n", formatTime(q.LastEscalationCheck))
	if q.Notes != nil {
		fmt.Fprintf(w, "Notes: %s\n", *q.Notes)
	}
}

// errorLine renders err for stderr. AppErrors show their code.
func errorLine(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return failure.Sprintf("Error [%s]: %s", appErr.Code, appErr.Message)
	}
	return failure.Sprint("Error: ", err.Error())
}
