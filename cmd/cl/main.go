package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/assist"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline routes government case files between workstation roles.
How it works:
- Workspace: the .caseline directory holds the SQLite database; caseline.yml holds the role registry and transition table.
- Roles: dto (registry) -> ea (executive assistant) -> cs (chief secretary), plus action officers who only receive delegated tasks.
- Cases: registered by dto with documents, forwarded along configured transitions, closed or rejected by cs.
- Tasks: cs delegates work to action officers; officers submit, cs approves or sends back.
- Notifications and the event log keep every role informed; 'cl serve' exposes the same engine over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("role", "", "act as this role (defaults to the workstation role)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(assistCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "caseline.yml defines the role registry and the case transition table. Without it the built-in DTO/EA/CS chain with three action officers is used.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrDump(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workstation status",
		Long:  "The scoreboard for this workspace: acting role, next case number, the active case, and unread notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				meta, err := e.Repo.GetAppMeta(ctx)
				if err != nil {
					return err
				}
				role := actingRole(meta)
				unread, err := e.Notify.ListForRole(ctx, role, true)
				if err != nil {
					return err
				}
				var active *domain.Case
				if meta.ActiveCaseID != nil {
					c, err := e.Repo.GetCase(ctx, *meta.ActiveCaseID)
					if err == nil {
						active = &c
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"role":             role,
						"next_case_number": meta.NextCaseNumber,
						"active_case":      active,
						"unread":           len(unread),
					})
				}
				fmt.Printf("Role: %s (%s)\n", role, e.Config.RoleName(role))
				fmt.Printf("Next case number: %d\n", meta.NextCaseNumber)
				if active != nil {
					fmt.Printf("Active case: %s - %s [%s]\n", active.ID, active.Title, active.Status)
				} else {
					fmt.Println("Active case: none")
				}
				fmt.Printf("Unread notifications: %d\n", len(unread))
				return nil
			})
		},
	}
	return cmd
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Inspect and switch roles"}
	role.AddCommand(roleListCmd())
	role.AddCommand(roleSwitchCmd())
	return role
}

func roleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config.Roles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Name", "Title"})
				ids := []string{}
				for id := range e.Config.Roles {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					r := e.Config.Roles[id]
					tw.AppendRow(table.Row{id, r.Kind, r.Name, r.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func roleSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <role>",
		Short: "Switch the workstation role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SwitchRole(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Now acting as %s (%s)\n", args[0], e.Config.RoleName(args[0]))
				return nil
			})
		},
	}
	return cmd
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
		Long:  "Cases are the routed files. dto registers them with original documents, forwards move custody along configured transitions, and cs closes, rejects, or delegates.",
	}
	c.AddCommand(caseRegisterCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseForwardCmd())
	c.AddCommand(caseRejectCmd())
	c.AddCommand(caseCloseCmd())
	c.AddCommand(caseSwitchCmd())
	c.AddCommand(caseDeleteCmd())
	c.AddCommand(casePriorityCmd())
	c.AddCommand(caseDueDateCmd())
	return c
}

func caseRegisterCmd() *cobra.Command {
	var title, summary, priority, dueDate, notes, docType string
	var docs []string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.RegisterCaseOptions{
					Title:    title,
					Summary:  summary,
					Priority: priority,
					DueDate:  dueDate,
					Notes:    notes,
					Actor:    mustActingRole(ctx, e),
				}
				for _, p := range docs {
					content, err := os.ReadFile(p)
					if err != nil {
						return err
					}
					opts.Documents = append(opts.Documents, engine.DocumentUpload{
						Name:    filepath.Base(p),
						DocType: docType,
						Content: content,
					})
				}
				res, err := e.RegisterCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(res)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "case title")
	cmd.Flags().StringVar(&summary, "summary", "", "summary")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, medium, low)")
	cmd.Flags().StringVar(&dueDate, "due-date", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&notes, "notes", "", "registration notes")
	cmd.Flags().StringArrayVar(&docs, "doc", []string{}, "document file to attach (repeatable)")
	cmd.Flags().StringVar(&docType, "doc-type", "general", "document type for attached files")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Holder", "Due"})
				for _, c := range items {
					due := ""
					if c.DueDate != nil {
						due = *c.DueDate
					}
					tw.AppendRow(table.Row{c.ID, c.Title, c.Status, c.Priority, c.CurrentHolder, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, closed, rejected)")
	cmd.Flags().StringVar(&f.Holder, "holder", "", "current holder filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a case (defaults to the active case)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					meta, err := e.Repo.GetAppMeta(ctx)
					if err != nil {
						return err
					}
					if meta.ActiveCaseID == nil {
						return fmt.Errorf("no active case; pass an id or run 'cl case switch <id>'")
					}
					id = *meta.ActiveCaseID
				}
				c, err := e.Repo.GetCase(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(c)
			})
		},
	}
	return cmd
}

func caseForwardCmd() *cobra.Command {
	var transition, recipient, action, notes, comment, priority string
	var docIDs []string
	cmd := &cobra.Command{
		Use:   "forward <id>",
		Short: "Forward a case along a transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ForwardCase(ctx, engine.ForwardOptions{
					CaseID:     args[0],
					Transition: transition,
					Recipient:  recipient,
					Action:     action,
					Notes:      notes,
					Comment:    comment,
					Priority:   priority,
					DocIDs:     docIDs,
					Actor:      mustActingRole(ctx, e),
				})
				if err != nil {
					return err
				}
				return printJSONOrDump(c)
			})
		},
	}
	cmd.Flags().StringVar(&transition, "transition", "", "transition key (e.g. dto-ea)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient when the transition offers options")
	cmd.Flags().StringVar(&action, "action", "", "action label")
	cmd.Flags().StringVar(&notes, "notes", "", "routing notes")
	cmd.Flags().StringVar(&comment, "comment", "", "comment posted on the case thread")
	cmd.Flags().StringVar(&priority, "priority", "", "change priority while forwarding")
	cmd.Flags().StringArrayVar(&docIDs, "doc-id", []string{}, "document id to carry along (repeatable)")
	_ = cmd.MarkFlagRequired("transition")
	return cmd
}

func caseRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a case back to the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ForwardCase(ctx, engine.ForwardOptions{
					CaseID:     args[0],
					Transition: "cs-reject",
					Notes:      reason,
					Actor:      mustActingRole(ctx, e),
				})
				if err != nil {
					return err
				}
				return printJSONOrDump(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func caseCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CloseCase(ctx, args[0], mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(c)
			})
		},
	}
	return cmd
}

func caseSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <id>",
		Short: "Make a case the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SwitchCase(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Active case: %s - %s\n", c.ID, c.Title)
				return nil
			})
		},
	}
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a case and everything attached to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteCase(ctx, args[0], mustActingRole(ctx, e))
			})
		},
	}
	return cmd
}

func casePriorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority <id> <high|medium|low>",
		Short: "Change case priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ChangePriority(ctx, args[0], args[1], mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(c)
			})
		},
	}
	return cmd
}

func caseDueDateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "due-date <id> <YYYY-MM-DD>",
		Short: "Change case due date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ChangeDueDate(ctx, args[0], args[1], mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(c)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Manage delegated tasks",
		Long:  "Tasks carry delegated work to action officers. They flow in_progress -> submitted -> completed, with sendback and cancel as detours. Only cs delegates and reviews.",
	}
	t.AddCommand(taskDelegateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskSubmitCmd())
	t.AddCommand(taskApproveCmd())
	t.AddCommand(taskSendBackCmd())
	t.AddCommand(taskCancelCmd())
	t.AddCommand(taskEditCmd())
	t.AddCommand(taskReopenCmd())
	t.AddCommand(taskAttachCmd())
	t.AddCommand(taskDetachCmd())
	return t
}

func taskDelegateCmd() *cobra.Command {
	var title, instructions, priority, deadline, assignee string
	cmd := &cobra.Command{
		Use:   "delegate <case-id>",
		Short: "Delegate a task to an action officer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.DelegateTasks(ctx, engine.DelegateOptions{
					CaseID: args[0],
					Tasks: []engine.TaskDraft{{
						Title:        title,
						Instructions: instructions,
						Priority:     priority,
						Deadline:     deadline,
						Assignee:     assignee,
					}},
					Actor: mustActingRole(ctx, e),
				})
				if err != nil {
					return err
				}
				return printJSONOrDump(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions for the officer")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (defaults to the case priority)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "action officer role id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Case", "Title", "Status", "Assignee", "Deadline"})
				for _, t := range tasks {
					deadline := ""
					if t.Deadline != nil {
						deadline = *t.Deadline
					}
					tw.AppendRow(table.Row{t.ID, t.CaseID, t.Title, t.Status, t.Assignee, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CaseID, "case", "", "case id filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with submissions and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var comment string
	var docIDs []string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit task work for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SubmitTask(ctx, engine.SubmitTaskOptions{
					TaskID:  args[0],
					Comment: comment,
					DocIDs:  docIDs,
					Actor:   mustActingRole(ctx, e),
				})
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "submission comment")
	cmd.Flags().StringArrayVar(&docIDs, "doc-id", []string{}, "attached draft document id (repeatable)")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve submitted work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ApproveTask(ctx, args[0], comment, mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func taskSendBackCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "sendback <id>",
		Short: "Send submitted work back for revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SendBackTask(ctx, args[0], reason, mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "what needs to change")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CancelTask(ctx, args[0], reason, mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskEditCmd() *cobra.Command {
	var title, priority, deadline, assignee string
	var clearDeadline bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit or reassign a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.EditTaskOptions{
					TaskID:   args[0],
					Priority: priority,
					Assignee: assignee,
					Actor:    mustActingRole(ctx, e),
				}
				if cmd.Flags().Changed("title") {
					opts.Title = title
				} else {
					current, err := e.Repo.GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					opts.Title = current.Title
				}
				if clearDeadline {
					empty := ""
					opts.Deadline = &empty
				} else if cmd.Flags().Changed("deadline") {
					opts.Deadline = &deadline
				}
				t, err := e.EditTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&deadline, "deadline", "", "new deadline (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clearDeadline, "clear-deadline", false, "remove the deadline")
	cmd.Flags().StringVar(&assignee, "assignee", "", "reassign to another action officer")
	return cmd
}

func taskReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReopenTask(ctx, args[0], mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(t)
			})
		},
	}
	return cmd
}

func taskAttachCmd() *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "attach <id> <file>",
		Short: "Attach a draft document to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				content, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				d, err := e.AttachTaskDocument(ctx, args[0], engine.DocumentUpload{
					Name:    filepath.Base(args[1]),
					DocType: docType,
					Content: content,
				}, mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				return printJSONOrDump(d)
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "draft", "document type")
	return cmd
}

func taskDetachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detach <id> <doc-id>",
		Short: "Remove a pending document from a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DetachTaskDocument(ctx, args[0], args[1], mustActingRole(ctx, e))
			})
		},
	}
	return cmd
}

func docCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "doc",
		Short: "Manage case documents",
		Long:  "Documents live on cases. Originals arrive at registration, drafts belong to the uploading officer until submitted, submitted documents are visible to everyone.",
	}
	d.AddCommand(docAddCmd())
	d.AddCommand(docListCmd())
	d.AddCommand(docGetCmd())
	return d
}

func docAddCmd() *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "add <case-id> <file>",
		Short: "Add a document to a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				content, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				d, err := e.AddDocument(ctx, engine.AddDocumentOptions{
					CaseID:  args[0],
					Name:    filepath.Base(args[1]),
					DocType: docType,
					Content: content,
					Actor:   mustActingRole(ctx, e),
				})
				if err != nil {
					return err
				}
				return printJSONOrDump(d)
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "general", "document type")
	return cmd
}

func docListCmd() *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents visible to the acting role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseID == "" {
				return fmt.Errorf("--case required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.VisibleDocuments(ctx, caseID, mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Uploaded By", "Size"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.ID, d.Name, d.DocType, d.Status, d.UploadedBy, d.Size})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	return cmd
}

func docGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <doc-id>",
		Short: "Download document content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				content, err := e.Repo.GetDocumentContent(ctx, args[0])
				if err != nil {
					return err
				}
				target := out
				if target == "" {
					target = d.Name
				}
				if err := os.WriteFile(target, content, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s (%d bytes)\n", target, len(content))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (defaults to the document name)")
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Case comment thread"}
	c.AddCommand(commentAddCmd())
	c.AddCommand(commentListCmd())
	return c
}

func commentAddCmd() *cobra.Command {
	var recipient, text, docID string
	cmd := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Post a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cm, err := e.SubmitComment(ctx, engine.CommentOptions{
					CaseID:      args[0],
					Recipient:   recipient,
					Text:        text,
					LinkedDocID: docID,
					Actor:       mustActingRole(ctx, e),
				})
				if err != nil {
					return err
				}
				return printJSONOrDump(cm)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "to", "", "recipient role")
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	cmd.Flags().StringVar(&docID, "doc", "", "linked document id")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List case comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comments, err := e.Repo.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrDump(comments)
			})
		},
	}
	return cmd
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Role notifications"}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	n.AddCommand(notifyReadAllCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Notify.ListForRole(ctx, mustActingRole(ctx, e), unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Title", "Read"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.TS, n.Type, n.Title, n.Read})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.Notify.MarkRead(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("notification %s not found", args[0])
				}
				return nil
			})
		},
	}
	return cmd
}

func notifyReadAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark all notifications read for the acting role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Notify.MarkAllRead(ctx, mustActingRole(ctx, e))
				if err != nil {
					return err
				}
				fmt.Printf("Marked %d notifications read\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
		Long:  "The diary of everything that happened: registrations, forwards, delegations, reviews, and closures.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Case", "Actor", "Note"})
				for _, evt := range events {
					note := ""
					if evt.Note != nil {
						note = *evt.Note
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CaseID, evt.Actor, note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.CaseID, "case", "", "case id filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.Actor, "actor", "", "actor filter")
	return cmd
}

func assistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assist <question>",
		Short: "Ask the document assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer := assist.Answer(strings.Join(args, " "))
			if viper.GetBool("json") {
				return printJSON(map[string]string{"answer": answer})
			}
			fmt.Println(answer)
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for cl serve"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key bound to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.Config.RoleExists(role) {
					return fmt.Errorf("unknown role %s", role)
				}
				rawKey := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "role": role, "key": rawKey})
				}
				fmt.Printf("API key created for role %s. Store it now, it is not shown again:\n%s\n", role, rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowRoleHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeDB, err := app.OpenEngine(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer closeDB()
			authCfg := server.AuthConfig{
				JWTSecret:       os.Getenv("CASELINE_JWT_SECRET"),
				AllowRoleHeader: allowRoleHeader,
			}
			if authCfg.JWTSecret == "" && !allowRoleHeader {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth (or pass --allow-role-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowRoleHeader, "allow-role-header", false, "accept the unauthenticated X-Role header (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeDB, err := app.OpenEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e)
}

// actingRole resolves the role a command acts as: the --role flag wins,
// otherwise the workstation role stored in app meta.
func actingRole(meta domain.AppMeta) string {
	if r := strings.TrimSpace(viper.GetString("role")); r != "" {
		return r
	}
	return meta.CurrentRole
}

func mustActingRole(ctx context.Context, e engine.Engine) string {
	if r := strings.TrimSpace(viper.GetString("role")); r != "" {
		return r
	}
	meta, err := e.Repo.GetAppMeta(ctx)
	if err != nil {
		return ""
	}
	return meta.CurrentRole
}

func printJSONOrDump(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
