package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qcflow/internal/api"
	"qcflow/internal/config"
	"qcflow/internal/polling"
	"qcflow/internal/reconcile"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var certificates []string
	var authority string
	var wait bool
	var finalize bool

	cmd := &cobra.Command{
		Use:   "submit <policy>",
		Short: "Upload a policy with its certificates and create a QC job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := uploadFiles(args[0], certificates, authority)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Submit(cmd.Context(), files)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s created (%d documents)\n", resp.JobID, resp.ExpectedFiles)
				if !wait && !finalize {
					return nil
				}
				poller := newPoller(cmd, ctx.configValue(), client)
				if _, err := poller.WaitReady(cmd.Context(), resp.JobID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Job %s is ready\n", resp.JobID)
				if !finalize {
					return nil
				}
				result, err := poller.Finalize(cmd.Context(), resp.JobID)
				if err != nil {
					return err
				}
				printFinalize(cmd, result)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&certificates, "certificate", nil, "Certificate document (repeat for additional certificates)")
	cmd.Flags().StringVar(&authority, "authority", "", "Authority form document")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the job is ready")
	cmd.Flags().BoolVar(&finalize, "finalize", false, "Poll until ready, then finalize")
	return cmd
}

// uploadFiles assigns roles: the first certificate is "certificate", later
// ones certificate_b, certificate_c and so on.
func uploadFiles(policy string, certificates []string, authority string) ([]api.UploadFile, error) {
	if len(certificates) == 0 {
		return nil, errors.New("at least one --certificate is required")
	}
	if len(certificates) > 25 {
		return nil, fmt.Errorf("too many certificates (%d)", len(certificates))
	}
	files := []api.UploadFile{{Role: reconcile.RolePolicy, Path: policy}}
	for i, path := range certificates {
		role := reconcile.RoleCertificate
		if i > 0 {
			role = reconcile.Role(fmt.Sprintf("%s_%c", reconcile.RoleCertificate, 'a'+i))
		}
		files = append(files, api.UploadFile{Role: role, Path: path})
	}
	if strings.TrimSpace(authority) != "" {
		files = append(files, api.UploadFile{Role: reconcile.RoleAuthorityForm, Path: authority})
	}
	for i, f := range files {
		expanded, err := config.ExpandPath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s path: %w", f.Role, err)
		}
		files[i].Path = expanded
	}
	return files, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status <job>",
		Short: "Show the processing status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var attempts int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "wait <job>",
		Short: "Poll a job until it is ready to finalize",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				poller := newPoller(cmd, ctx.configValue(), client)
				if attempts > 0 {
					poller.MaxAttempts = attempts
				}
				if interval > 0 {
					poller.Interval = interval
				}
				status, err := poller.WaitReady(cmd.Context(), args[0])
				if err != nil {
					if status != nil && errors.Is(err, polling.ErrJobFailed) {
						printStatus(cmd, status)
					}
					return err
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Maximum poll attempts (defaults to polling.max_attempts)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Delay between attempts (defaults to polling.interval_seconds)")
	return cmd
}

func newFinalizeCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "finalize <job>",
		Short: "Reconcile a ready job and push the verdicts to the sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				var (
					result api.FinalizeResponse
					err    error
				)
				if wait {
					result, err = newPoller(cmd, ctx.configValue(), client).Finalize(cmd.Context(), args[0])
				} else {
					result, err = client.Finalize(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				printFinalize(cmd, result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Retry while another finalize is in progress or the sink is unavailable")
	return cmd
}

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "results <job>",
		Short: "Show the reconciled verdicts of a finalized job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				results, err := client.Results(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, results)
				}
				printResults(cmd, results)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "summary <job>",
		Short: "Show the document inventory produced by the summary lane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				summary, err := client.Summary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, summary)
				}
				rows := make([][]string, 0, len(summary.Files))
				for _, f := range summary.Files {
					rows = append(rows, []string{string(f.Role), f.FileName, strconv.Itoa(f.Pages), strconv.Itoa(f.TextLength), f.Error})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s: %d pages\n", summary.JobID, summary.TotalPages)
				fmt.Fprintln(out, renderTable(
					[]string{"Role", "File", "Pages", "Text", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var limit int
	var output string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				items, err := client.Jobs(cmd.Context(), states, limit)
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, api.JobListResponse{Jobs: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.ID,
						item.State,
						fmt.Sprintf("%d/%d", item.CompletedFiles, item.ExpectedFiles),
						strconv.Itoa(item.FailedFiles),
						item.UpdatedAt,
						item.SheetURL,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "State", "Files", "Failed", "Updated", "Sheet"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to list")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newPoller(cmd *cobra.Command, cfg *config.Config, client *api.Client) *polling.Poller {
	var poller *polling.Poller
	if cfg != nil {
		poller = polling.New(client, cfg)
	} else {
		poller = &polling.Poller{Source: client}
	}
	errOut := cmd.ErrOrStderr()
	poller.Progress = func(attempt int, message string) {
		fmt.Fprintf(errOut, "[%d/%d] %s\n", attempt, poller.MaxAttempts, message)
	}
	return poller
}
