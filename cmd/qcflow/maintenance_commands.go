package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"qcflow/internal/api"
	"qcflow/internal/jobs"
	"qcflow/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show daemon readiness, lane statistics and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				health, err := client.Health(cmd.Context())
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, health)
				}
				printHealth(cmd, health)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}

func printHealth(cmd *cobra.Command, health api.HealthResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	readyKind := statusOK
	if !health.Ready {
		readyKind = statusError
	}
	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	fmt.Fprintln(out, renderStatusLine("Ready", readyKind, yesNo(health.Ready), colorize))
	fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(health.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, health.Database.DBPath, colorize))
	for _, s := range health.Stages {
		kind := statusOK
		if !s.Ready {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(s.Name, kind, s.Detail, colorize))
	}

	rows := make([][]string, 0, len(health.Lanes))
	for _, lane := range health.Lanes {
		rows = append(rows, []string{
			string(lane.Lane),
			strconv.Itoa(lane.Workers),
			strconv.Itoa(lane.Queued),
			strconv.FormatInt(lane.Active, 10),
			strconv.FormatInt(lane.Processed, 10),
			strconv.FormatInt(lane.Failed, 10),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Lane", "Workers", "Queued", "Active", "Processed", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	states := make([]string, 0, len(health.JobCounts))
	for state := range health.JobCounts {
		states = append(states, state)
	}
	sort.Strings(states)
	rows = rows[:0]
	for _, state := range states {
		rows = append(rows, []string{state, strconv.Itoa(health.JobCounts[state])})
	}
	fmt.Fprintln(out, renderTable([]string{"State", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	var heartbeat time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail expired jobs and reclaim stale finalizes in the local job store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if maxAge <= 0 {
				maxAge = cfg.MaxJobAge()
			}
			if heartbeat <= 0 {
				heartbeat = cfg.HeartbeatTimeout()
			}
			if maxAge <= 0 && heartbeat <= 0 {
				return errors.New("nothing to sweep: max job age and heartbeat timeout are both disabled")
			}

			store, err := jobs.Open(cfg)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			now := time.Now()
			if maxAge > 0 {
				expired, err := store.SweepExpired(cmd.Context(), now.Add(-maxAge))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Expired %d job(s) older than %s\n", len(expired), maxAge)
				for _, id := range expired {
					fmt.Fprintf(out, "  %s\n", id)
				}
			}
			if heartbeat > 0 {
				reclaimed, err := store.ReclaimStaleFinalizing(cmd.Context(), now.Add(-heartbeat))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Returned %d stale finalize(s) to READY\n", reclaimed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Fail jobs older than this (defaults to jobs.max_job_age_hours)")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat-timeout", 0, "Reclaim finalizes silent for this long (defaults to finalize.heartbeat_timeout_seconds)")
	return cmd
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks against the local configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			failed := preflight.Failed(results)

			if format != formatTable {
				if err := writeStructured(cmd, format, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}
