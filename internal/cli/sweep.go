package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"queryguard/internal/app"
	"queryguard/internal/db"
	"queryguard/internal/escalation"
	"queryguard/internal/scheduler"
	"queryguard/internal/telemetry"
	"queryguard/internal/types"
)

// plannedStep is one row of a dry-run sweep.
type plannedStep struct {
	QueryID  string            `json:"query_id"`
	From     types.QueryState  `json:"from"`
	Action   escalation.Action `json:"action"`
	To       *types.QueryState `json:"to,omitempty"`
	Deadline time.Time         `json:"deadline"`
	Overdue  string            `json:"overdue,omitempty"`
}

func (c *cli) sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation sweep",
		Long: `Run one escalation sweep against the configured store, sending tier
notifications through the configured providers. The sweep takes the same
job lock as the scheduled escalator, so it is skipped while another sweep
is running.

--at evaluates deadlines as of a fixed instant (RFC3339). --dry-run prints
what the sweep would do without changing anything or sending notices.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			at, _ := cmd.Flags().GetString("at")

			var ref *time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return types.NewAppError(types.ErrCodeValidationInvalidQuery,
						fmt.Sprintf("invalid --at %q; expected RFC3339", at), err)
				}
				t = t.UTC()
				ref = &t
			}

			rt, done, err := c.setup(cmd.Context(), !dryRun)
			if err != nil {
				return err
			}
			defer done()

			if dryRun {
				now := rt.clock.Now()
				if ref != nil {
					now = *ref
				}
				return planSweep(cmd, rt, now)
			}
			return c.runSweep(cmd, rt, ref)
		},
	}
	cmd.Flags().Bool("dry-run", false, "print planned transitions without applying them")
	cmd.Flags().String("at", "", "reference time (RFC3339) used instead of now")
	return cmd
}

func (c *cli) runSweep(cmd *cobra.Command, rt *runtime, ref *time.Time) error {
	ctx := cmd.Context()

	recorder, err := telemetry.New(ctx, rt.cfg, types.NewSlogLogger(rt.logger))
	if err != nil {
		return err
	}
	sweeper, err := c.opts.BuildSweeper(ctx, rt.cfg, rt.store, rt.logger, app.SweepDeps{
		Metrics: recorder,
		Clock:   rt.clock,
	})
	if err != nil {
		return err
	}
	locker, closeLock, err := app.NewLocker(ctx, rt.cfg, rt.store)
	if err != nil {
		return err
	}
	defer func() { _ = closeLock() }()

	job := app.NewSweepJob(sweeper, locker, app.NewHistorian(rt.store), rt.cfg, rt.logger)
	job.Clock = rt.clock

	report, err := job.Run(ctx, ref)
	if errors.Is(err, scheduler.ErrSkipped) {
		fmt.Fprintln(rt.out, faint.Sprint("Sweep skipped: another worker holds the lock."))
		return nil
	}
	if err != nil {
		return err
	}
	if rt.json {
		return printJSON(rt.out, report)
	}
	printReport(rt, report)
	if len(report.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d error(s)", len(report.Errors))
	}
	return nil
}

func printReport(rt *runtime, r escalation.SweepReport) {
	w := newTable(rt.out)
	fmt.Fprintf(w, "Sweep\t%s\n", r.SweepID)
	fmt.Fprintf(w, "Started\t%s\n", formatTime(&r.StartedAt))
	fmt.Fprintf(w, "Duration\t%s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Examined\t%d\n", r.Examined)
	fmt.Fprintf(w, "Escalated to manager\t%d\n", r.EscalatedToManager)
	fmt.Fprintf(w, "Escalated to CEO\t%d\n", r.EscalatedToCEO)
	fmt.Fprintf(w, "Claims lost\t%d\n", r.ClaimsLost)
	fmt.Fprintf(w, "Touched\t%d\n", r.Touched)
	fmt.Fprintf(w, "CEO overdue\t%d\n", r.TerminalOverdue)
	fmt.Fprintf(w, "Notification failures\t%d\n", r.NotificationFailures)
	_ = w.Flush()
	for _, e := range r.Errors {
		fmt.Fprintln(rt.out, failure.Sprint("  ", e.Error()))
	}
}

// planSweep evaluates the sweep candidates and CEO-tier records at now
// without committing anything.
func planSweep(cmd *cobra.Command, rt *runtime, now time.Time) error {
	ctx := cmd.Context()
	candidates, err := rt.store.FindQueriesNeedingEscalationCheck(ctx)
	if err != nil {
		return err
	}
	atCEO, err := rt.store.FindUnansweredAtTier(ctx, types.TierCEO)
	if err != nil {
		return err
	}

	timeout := rt.cfg.Escalation.Timeout
	var steps []plannedStep
	for _, q := range append(candidates, atCEO...) {
		d := escalation.Evaluate(q, now, timeout)
		step := plannedStep{QueryID: q.ID, From: d.From, Action: d.Action, Deadline: d.Deadline}
		if d.Action == escalation.ActionEscalate {
			to := d.To
			step.To = &to
		}
		if o := d.Overdue(now); o > 0 {
			step.Overdue = o.Round(time.Second).String()
		}
		steps = append(steps, step)
	}

	if rt.json {
		if steps == nil {
			steps = []plannedStep{}
		}
		return printJSON(rt.out, steps)
	}
	if len(steps) == 0 {
		fmt.Fprintln(rt.out, "Nothing to check.")
		return nil
	}

	w := newTable(rt.out)
	fmt.Fprintln(w, "ID\tFROM\tACTION\tTO\tDEADLINE\tOVERDUE")
	fmt.Fprintln(w, "--\t----\t------\t--\t--------\t-------")
	for _, s := range steps {
		to, overdue := "-", s.Overdue
		if s.To != nil {
			to = s.To.String()
		}
		if overdue == "" {
			overdue = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.QueryID, s.From, actionLabel(s.Action), to, formatTime(&s.Deadline), overdue)
	}
	return w.Flush()
}

func actionLabel(a escalation.Action) string {
	switch a {
	case escalation.ActionEscalate:
		return statusColor(types.StatusEscalatedLevel2).Sprint(a)
	case escalation.ActionTerminalOverdue:
		return failure.Sprint(a)
	}
	return string(a)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Apply the schema to the configured store. Statements are idempotent. The SQLite store migrates itself on open.",
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			pg, ok := rt.store.(*db.PostgresStore)
			if !ok {
				fmt.Fprintln(rt.out, "SQLite schema is applied on open; nothing to do.")
				return nil
			}
			if err := db.Migrate(cmd.Context(), pg.Pool); err != nil {
				return err
			}
			fmt.Fprintf(rt.out, "%s Schema applied\n", success.Sprint("✓"))
			return nil
		}),
	}
}
