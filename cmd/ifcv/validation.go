package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ifcvalidation/internal/app"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
	"ifcvalidation/internal/server"
)

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Manage validation requests",
		Long:  "A validation request is one submitted IFC file. Status moves PENDING -> INITIATED -> COMPLETED or FAILED; requeue puts it back to PENDING.",
	}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestGetCmd())
	req.AddCommand(requestTransitionCmd("initiate", "Mark a request as started", func(e engine.Engine) requestTransition { return e.InitiateRequest }))
	req.AddCommand(requestTransitionCmd("complete", "Mark a request as completed", func(e engine.Engine) requestTransition { return e.CompleteRequest }))
	req.AddCommand(requestTransitionCmd("fail", "Mark a request as failed", func(e engine.Engine) requestTransition { return e.FailRequest }))
	req.AddCommand(requestRequeueCmd())
	req.AddCommand(requestProgressCmd())
	req.AddCommand(requestAttachModelCmd())
	req.AddCommand(requestDeleteCmd())
	req.AddCommand(requestRestoreCmd())
	return req
}

type requestTransition func(context.Context, int64, string) (domain.Request, error)

func requestCreateCmd() *cobra.Command {
	var opts engine.RequestCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a file for validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.CreateRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Request(r))
			})
		},
	}
	cmd.Flags().StringVar(&opts.FileName, "file-name", "", "original file name")
	cmd.Flags().Int64Var(&opts.Size, "size", 0, "file size in bytes")
	cmd.Flags().StringVar(&opts.File, "file", "", "stored file reference (generated when empty)")
	_ = cmd.MarkFlagRequired("file-name")
	return cmd
}

func requestListCmd() *cobra.Command {
	var (
		f         repo.RequestFilter
		status    string
		createdBy string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.Status = domain.RequestStatus(strings.ToUpper(status))
				if f.Status != "" && !f.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				if createdBy != "" {
					u, err := app.ResolveUser(ctx, e.Repo, e.IDs, createdBy)
					if err != nil {
						return err
					}
					f.CreatedBy = u.ID
				}
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				out := server.NewPresenter(e).Requests(items)
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "File", "Status", "Progress", "Model", "Deleted", "Created By", "Created"})
				for _, r := range out {
					tw.AppendRow(table.Row{r.ID, r.FileName, r.Status, r.Progress, orDash(r.ModelID), r.Deleted, r.CreatedBy, r.Created.Format("2006-01-02 15:04:05")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "creator (public id or username)")
	cmd.Flags().BoolVar(&f.IncludeDeleted, "include-deleted", false, "include soft-deleted requests")
	cmd.Flags().BoolVar(&f.OnlyDeleted, "only-deleted", false, "only soft-deleted requests")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func requestGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show a request with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				r, err := e.Repo.GetRequest(ctx, id)
				if err != nil {
					return err
				}
				tasks, err := e.Repo.ListTasks(ctx, id)
				if err != nil {
					return err
				}
				p := server.NewPresenter(e)
				return printJSONOrTable(struct {
					server.RequestResponse
					Tasks []server.TaskResponse `json:"tasks"`
				}{p.Request(r), p.Tasks(tasks)})
			})
		},
	}
}

func requestTransitionCmd(use, short string, pick func(engine.Engine) requestTransition) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				r, err := pick(e)(ctx, id, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Request(r))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "status reason")
	return cmd
}

func requestRequeueCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "requeue <request-id>...",
		Short: "Move requests back to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := parseIDs(e, obfuscate.Request, args)
				if err != nil {
					return err
				}
				items, err := e.RequeueRequests(ctx, ids, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Requests(items))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "status reason")
	return cmd
}

func requestProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <request-id> <0-100>",
		Short: "Set request progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				var p int
				if _, err := fmt.Sscan(args[1], &p); err != nil {
					return fmt.Errorf("invalid progress %q", args[1])
				}
				r, err := e.SetRequestProgress(ctx, id, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Request(r))
			})
		},
	}
}

func requestAttachModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach-model <request-id> <model-id>",
		Short: "Link the model parsed from the request's file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				modelID, err := parseID(e, obfuscate.Model, args[1])
				if err != nil {
					return err
				}
				if _, err := e.Repo.GetModel(ctx, nil, modelID, false); err != nil {
					return err
				}
				r, err := e.AttachModel(ctx, id, modelID)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Request(r))
			})
		},
	}
}

func requestDeleteCmd() *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "delete <request-id>",
		Short: "Soft-delete a request (--hard removes it with its tasks and outcomes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				if hard {
					if err := e.HardDeleteRequest(ctx, id); err != nil {
						return err
					}
					fmt.Printf("purged %s\n", args[0])
					return nil
				}
				r, err := e.DeleteRequest(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Request(r))
			})
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "remove permanently")
	return cmd
}

func requestRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <request-id>",
		Short: "Undo a soft delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				r, err := e.RestoreRequest(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Request(r))
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage validation tasks",
		Long:  "A task is one check of a request. PENDING -> INITIATED -> COMPLETED or FAILED; SKIPPED and N/A are final and may be repeated.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskTransitionCmd("initiate", "Mark a task as started", false, func(e engine.Engine) taskTransition {
		return func(ctx context.Context, id int64, _ string) (domain.Task, error) { return e.InitiateTask(ctx, id) }
	}))
	task.AddCommand(taskTransitionCmd("complete", "Mark a task as completed", true, func(e engine.Engine) taskTransition { return e.CompleteTask }))
	task.AddCommand(taskTransitionCmd("fail", "Mark a task as failed", true, func(e engine.Engine) taskTransition { return e.FailTask }))
	task.AddCommand(taskTransitionCmd("skip", "Mark a task as skipped", true, func(e engine.Engine) taskTransition { return e.SkipTask }))
	task.AddCommand(taskTransitionCmd("na", "Mark a task as not applicable", true, func(e engine.Engine) taskTransition { return e.MarkTaskNotApplicable }))
	task.AddCommand(taskProgressCmd())
	task.AddCommand(taskProcessCmd())
	task.AddCommand(taskAggregateCmd())
	task.AddCommand(taskApplyCmd())
	return task
}

type taskTransition func(context.Context, int64, string) (domain.Task, error)

func taskCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <request-id> <type>",
		Short: "Add a task to a request (types: SYNTAX, SCHEMA, MVD, BSDD, INFO, PREREQ, NORMATIVE_IA, NORMATIVE_IP, INDUSTRY, INST_COMPLETION)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reqID, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				typ, err := domain.ParseTaskType(strings.ToUpper(args[1]))
				if err != nil {
					return err
				}
				t, err := e.CreateTask(ctx, reqID, typ)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Task(t))
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <request-id>",
		Short: "List the tasks of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reqID, err := parseID(e, obfuscate.Request, args[0])
				if err != nil {
					return err
				}
				items, err := e.Repo.ListTasks(ctx, reqID)
				if err != nil {
					return err
				}
				out := server.NewPresenter(e).Tasks(items)
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Type", "Status", "Progress", "Duration (s)", "Reason"})
				for _, t := range out {
					dur := "-"
					if t.Duration != nil {
						dur = fmt.Sprintf("%.1f", *t.Duration)
					}
					reason := ""
					if t.StatusReason != nil {
						reason = *t.StatusReason
					}
					tw.AppendRow(table.Row{t.ID, t.TypeLabel, t.Status, t.Progress, dur, reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Task(t))
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task together with its outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteTask(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func taskTransitionCmd(use, short string, withReason bool, pick func(engine.Engine) taskTransition) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				t, err := pick(e)(ctx, id, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Task(t))
			})
		},
	}
	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "status reason")
	}
	return cmd
}

func taskProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <task-id> <0-100>",
		Short: "Set task progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				var p int
				if _, err := fmt.Sscan(args[1], &p); err != nil {
					return fmt.Errorf("invalid progress %q", args[1])
				}
				t, err := e.SetTaskProgress(ctx, id, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Task(t))
			})
		},
	}
}

func taskProcessCmd() *cobra.Command {
	var (
		pid     int64
		command string
	)
	cmd := &cobra.Command{
		Use:   "process <task-id>",
		Short: "Record the process running a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				t, err := e.SetTaskProcessDetails(ctx, id, pid, command)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Task(t))
			})
		},
	}
	cmd.Flags().Int64Var(&pid, "pid", 0, "process id")
	cmd.Flags().StringVar(&command, "cmd", "", "command line")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}

func taskAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <task-id>",
		Short: "Compute a task's status from its outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				status, err := e.TaskAggregate(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrLine(server.AggregateResponse{TaskID: args[0], Status: string(status), Label: status.Label()},
					fmt.Sprintf("%s %s", status, status.Label()))
			})
		},
	}
}

func taskApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <task-id>",
		Short: "Write the task's aggregate status onto the request's model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				m, err := e.ApplyTaskStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Model(ctx, m))
			})
		},
	}
}

func outcomeCmd() *cobra.Command {
	out := &cobra.Command{Use: "outcome", Short: "Record and inspect validation outcomes"}
	out.AddCommand(outcomeRecordCmd())
	out.AddCommand(outcomeListCmd())
	out.AddCommand(outcomeCodesCmd())
	return out
}

func outcomeRecordCmd() *cobra.Command {
	var (
		severity, code, feature      string
		instance, expected, observed string
		featureVersion               int
		batchFile                    string
	)
	cmd := &cobra.Command{
		Use:   "record <task-id>",
		Short: "Record one outcome, or a batch from a JSON file (--batch); a batch is stored all or nothing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				taskID, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				var inputs []domain.OutcomeInput
				if batchFile != "" {
					inputs, err = readOutcomeBatch(e, taskID, batchFile)
					if err != nil {
						return err
					}
				} else {
					sev, err := domain.ParseSeverity(severity)
					if err != nil {
						return err
					}
					in := domain.OutcomeInput{
						TaskID:   taskID,
						Severity: sev,
						Code:     strings.ToUpper(code),
						Feature:  optionalString(feature),
						Expected: rawOrNil(expected),
						Observed: rawOrNil(observed),
					}
					if cmd.Flags().Changed("feature-version") {
						in.FeatureVersion = &featureVersion
					}
					if instance != "" {
						id, err := parseID(e, obfuscate.Instance, instance)
						if err != nil {
							return err
						}
						in.InstanceID = &id
					}
					inputs = append(inputs, in)
				}
				recorded, err := e.RecordOutcomes(ctx, inputs)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Outcomes(recorded))
			})
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "severity (0-4 or N/A, Executed, Passed, Warning, Error)")
	cmd.Flags().StringVar(&code, "code", "", "outcome code, e.g. E00030")
	cmd.Flags().StringVar(&feature, "feature", "", "rule or feature name")
	cmd.Flags().IntVar(&featureVersion, "feature-version", 0, "rule version")
	cmd.Flags().StringVar(&instance, "instance", "", "model instance id")
	cmd.Flags().StringVar(&expected, "expected", "", "expected value as JSON")
	cmd.Flags().StringVar(&observed, "observed", "", "observed value as JSON")
	cmd.Flags().StringVar(&batchFile, "batch", "", "JSON file with an array of outcomes")
	return cmd
}

func rawOrNil(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}

func readOutcomeBatch(e engine.Engine, taskID int64, path string) ([]domain.OutcomeInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []server.OutcomeRequest
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	inputs := make([]domain.OutcomeInput, 0, len(items))
	for _, o := range items {
		in := domain.OutcomeInput{
			TaskID:         taskID,
			Feature:        o.Feature,
			FeatureVersion: o.FeatureVersion,
			Severity:       domain.Severity(o.Severity),
			Code:           o.Code,
			Expected:       o.Expected,
			Observed:       o.Observed,
		}
		if o.InstanceID != nil && *o.InstanceID != "" {
			id, err := parseID(e, obfuscate.Instance, *o.InstanceID)
			if err != nil {
				return nil, err
			}
			in.InstanceID = &id
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func outcomeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List the outcomes of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				taskID, err := parseID(e, obfuscate.Task, args[0])
				if err != nil {
					return err
				}
				items, err := e.Repo.ListOutcomes(ctx, nil, taskID)
				if err != nil {
					return err
				}
				out := server.NewPresenter(e).Outcomes(items)
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Severity", "Code", "Label", "Feature", "Instance"})
				for _, o := range out {
					feature := ""
					if o.Feature != nil {
						feature = *o.Feature
					}
					tw.AppendRow(table.Row{o.ID, o.SeverityLabel, o.Code, o.CodeLabel, feature, orDash(o.InstanceID)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func outcomeCodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List known outcome codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := domain.OutcomeCodes()
			if viper.GetBool("json") {
				return printJSON(codes)
			}
			tw := newTable(table.Row{"Code", "Label"})
			for _, c := range codes {
				tw.AppendRow(table.Row{c.Code, c.Label})
			}
			tw.Render()
			return nil
		},
	}
}
