package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/app"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/logger"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline is an energy-aware daily planner.
Core concepts:
- Workspace: the .planline directory holding the database; planner configs live in the DB per user.
- Energy blocks: recurring daily time windows with a required energy level (LOW/MEDIUM/HIGH/CREATIVE) and a context tag like @computer.
- Tasks: the pool of schedulable work items with priority, due date, duration estimate, and context/energy requirements.
- Planning: 'pl plan run' walks the date range and binds tasks to blocks, exact matches before fallbacks, highest priority first.
- Execution: 'pl sched start/complete/cancel/reschedule' tracks what actually happened; completion stamps estimate accuracy.
- Analytics: per-block daily rollups of completion and energy accuracy; persistently inaccurate blocks get demoted in future plans.
- Event log: diary of changes, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return logger.Init(logger.Config{Debug: viper.GetBool("debug"), WorkspaceDir: workspace})
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
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging to stderr")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("user", "u", "", "user id (overrides single-user default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(blockCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(schedCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userInitCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userInitCmd() *cobra.Command {
	var id, orgID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a user with a default planner config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, config.Default(id))
				u, err := e.InitUser(ctx, id, orgID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Planner configuration"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configExportCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active planner config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print a default planner config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = viper.GetString("user")
			}
			if userID == "" {
				userID = "local-user"
			}
			fmt.Print(config.GenerateDefault(userID))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "user id for the template")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import planner config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				userID := viper.GetString("user")
				if userID == "" {
					userID = cfg.User.ID
				}
				if _, _, err := app.ResolveUserAndConfig(ctx, userID, r); err != nil {
					return err
				}
				if err := r.UpsertUserConfig(ctx, userID, cfg); err != nil {
					return err
				}
				fmt.Printf("Imported planner config for %s\n", userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to planline.yml")
	return cmd
}

func configExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the active planner config as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show planning status",
		Long:  "The scoreboard for a user: task counts and active scheduled work.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID := e.Config.User.ID
				counts, err := e.Repo.CountTasksByStatus(ctx, userID)
				if err != nil {
					return err
				}
				active, err := e.Repo.ListScheduled(ctx, repo.ScheduledFilters{UserID: userID, ActiveOnly: true})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"user_id":          userID,
						"task_counts":      counts,
						"active_scheduled": len(active),
					})
				}
				fmt.Printf("User: %s\n", userID)
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Printf("Active scheduled: %d\n", len(active))
				return nil
			})
		},
	}
}

func blockCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "block", Short: "Manage energy blocks"}
	cmd.AddCommand(blockAddCmd())
	cmd.AddCommand(blockListCmd())
	cmd.AddCommand(blockShowCmd())
	cmd.AddCommand(blockUpdateCmd())
	return cmd
}

func blockAddCmd() *cobra.Command {
	var opts engine.BlockCreateOptions
	var weekends, holidays, noWorkdays bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an energy block",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.UserID = e.Config.User.ID
				opts.ActorID = viper.GetString("actor-id")
				opts.AppliesOnWorkdays = !noWorkdays
				opts.AppliesOnWeekends = weekends
				opts.AppliesOnHolidays = holidays
				b, err := e.CreateBlock(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "block name")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time HH:MM")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time HH:MM")
	cmd.Flags().StringVar(&opts.RequiredEnergy, "energy", "", "LOW|MEDIUM|HIGH|CREATIVE")
	cmd.Flags().StringVar(&opts.PrimaryContext, "context", "", "primary context tag")
	cmd.Flags().StringArrayVar(&opts.AlternateContexts, "alt-context", []string{}, "alternate context tag (repeatable)")
	cmd.Flags().BoolVar(&opts.IsBreak, "break", false, "mark as a break block (never scheduled)")
	cmd.Flags().BoolVar(&noWorkdays, "no-workdays", false, "do not apply on workdays")
	cmd.Flags().BoolVar(&weekends, "weekends", false, "apply on weekends")
	cmd.Flags().BoolVar(&holidays, "holidays", false, "apply on holidays")
	cmd.Flags().IntVar(&opts.SortOrder, "order", 0, "sequence hint")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("energy")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func blockListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List energy blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListBlocks(ctx, repo.BlockFilters{UserID: e.Config.User.ID, ActiveOnly: activeOnly})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Window", "Energy", "Context", "Active"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Name, b.StartTime + "-" + b.EndTime, b.RequiredEnergy, b.PrimaryContext, b.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "active blocks only")
	return cmd
}

func blockShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <block-id>",
		Short: "Show an energy block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Repo.GetBlock(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
}

func blockUpdateCmd() *cobra.Command {
	var name, start, end, energy, contextTag string
	var order int
	var enable, disable bool
	cmd := &cobra.Command{
		Use:   "update <block-id>",
		Short: "Update an energy block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.BlockUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("start") {
					opts.StartTime = &start
				}
				if cmd.Flags().Changed("end") {
					opts.EndTime = &end
				}
				if cmd.Flags().Changed("energy") {
					opts.RequiredEnergy = &energy
				}
				if cmd.Flags().Changed("context") {
					opts.PrimaryContext = &contextTag
				}
				if cmd.Flags().Changed("order") {
					opts.SortOrder = &order
				}
				if enable {
					v := true
					opts.IsActive = &v
				}
				if disable {
					v := false
					opts.IsActive = &v
				}
				b, err := e.UpdateBlock(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "block name")
	cmd.Flags().StringVar(&start, "start", "", "start time HH:MM")
	cmd.Flags().StringVar(&end, "end", "", "end time HH:MM")
	cmd.Flags().StringVar(&energy, "energy", "", "LOW|MEDIUM|HIGH|CREATIVE")
	cmd.Flags().StringVar(&contextTag, "context", "", "primary context tag")
	cmd.Flags().IntVar(&order, "order", 0, "sequence hint")
	cmd.Flags().BoolVar(&enable, "enable", false, "activate the block")
	cmd.Flags().BoolVar(&disable, "disable", false, "soft-disable the block")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage the task pool"}
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskUpdateCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.UserID = e.Config.User.ID
				opts.ActorID = viper.GetString("actor-id")
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "LOW|MEDIUM|HIGH|URGENT")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.EstimatedDuration, "duration", 0, "estimated minutes")
	cmd.Flags().StringVar(&opts.RequiredContext, "context", "", "required context tag")
	cmd.Flags().StringVar(&opts.RequiredEnergy, "energy", "", "required energy level")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.UserID = e.Config.User.ID
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Due", "Min", "Context"})
				for _, t := range tasks {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, t.Status, due, t.EstimatedDuration, t.RequiredContext})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, priority, status, due, contextTag, energy string
	var duration int
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(args) != 1 {
					return fmt.Errorf("task id required")
				}
				opts := engine.TaskUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("due") {
					opts.DueDate = &due
				}
				if cmd.Flags().Changed("duration") {
					opts.EstimatedDuration = &duration
				}
				if cmd.Flags().Changed("context") {
					opts.RequiredContext = &contextTag
				}
				if cmd.Flags().Changed("energy") {
					opts.RequiredEnergy = &energy
				}
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW|MEDIUM|HIGH|URGENT")
	cmd.Flags().StringVar(&status, "status", "", "NEW|IN_PROGRESS|WAITING|COMPLETED|CANCELED")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD, empty clears")
	cmd.Flags().IntVar(&duration, "duration", 0, "estimated minutes")
	cmd.Flags().StringVar(&contextTag, "context", "", "required context tag")
	cmd.Flags().StringVar(&energy, "energy", "", "required energy, empty clears")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Run the scheduler"}
	cmd.AddCommand(planRunCmd())
	return cmd
}

func planRunCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule tasks over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = time.Now().Format("2006-01-02")
			}
			if to == "" {
				to = from
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ScheduleTasks(ctx, e.Config.User.ID, from, to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Scheduled %d, unplaced %d, skipped %d\n", len(res.Scheduled), len(res.Unplaced), len(res.Skipped))
				if len(res.Scheduled) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Task", "Block", "Date", "Min", "Compat"})
					for _, s := range res.Scheduled {
						taskID := ""
						if s.TaskID != nil {
							taskID = *s.TaskID
						}
						tw.AppendRow(table.Row{s.ID, taskID, s.EnergyBlockID, s.ScheduledDate, s.EstimatedDuration, s.Compatibility})
					}
					tw.Render()
				}
				for _, u := range res.Unplaced {
					fmt.Printf("  unplaced: %s (%s) %s\n", u.Title, u.TaskID, u.Reason)
				}
				for _, s := range res.Skipped {
					fmt.Printf("  skipped: %s (%s) %s\n", s.Title, s.TaskID, s.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "range start YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "range end YYYY-MM-DD (default = from)")
	return cmd
}

func schedCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sched", Short: "Execution lifecycle for scheduled tasks"}
	cmd.AddCommand(schedListCmd())
	cmd.AddCommand(schedShowCmd())
	cmd.AddCommand(schedStartCmd())
	cmd.AddCommand(schedCompleteCmd())
	cmd.AddCommand(schedCancelCmd())
	cmd.AddCommand(schedRescheduleCmd())
	return cmd
}

func schedListCmd() *cobra.Command {
	var f repo.ScheduledFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.UserID = e.Config.User.ID
				items, err := e.Repo.ListScheduled(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Block", "Status", "Min", "Actual", "Compat"})
				for _, s := range items {
					actual := ""
					if s.ActualDuration != nil {
						actual = fmt.Sprintf("%d", *s.ActualDuration)
					}
					tw.AppendRow(table.Row{s.ID, s.ScheduledDate, s.EnergyBlockID, s.Status, s.EstimatedDuration, actual, s.Compatibility})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.DateFrom, "from", "", "date from")
	cmd.Flags().StringVar(&f.DateTo, "to", "", "date to")
	cmd.Flags().StringVar(&f.BlockID, "block", "", "block filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "PLANNED/IN_PROGRESS only")
	return cmd
}

func schedShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <sched-id>",
		Short: "Show a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetScheduled(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func schedStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <sched-id>",
		Short: "Start a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func schedCompleteCmd() *cobra.Command {
	var actual int
	cmd := &cobra.Command{
		Use:   "complete <sched-id>",
		Short: "Complete a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var actualPtr *int
				if cmd.Flags().Changed("actual") {
					actualPtr = &actual
				}
				s, err := e.CompleteTask(ctx, args[0], actualPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().IntVar(&actual, "actual", 0, "actual minutes (default derived from start time)")
	return cmd
}

func schedCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <sched-id>",
		Short: "Cancel a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CancelTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func schedRescheduleCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reschedule <sched-id>",
		Short: "Reschedule into a later slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RescheduleTask(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is being moved")
	return cmd
}

func analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "analytics", Short: "Energy analytics"}
	cmd.AddCommand(analyticsRecomputeCmd())
	cmd.AddCommand(analyticsShowCmd())
	return cmd
}

func analyticsRecomputeCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute analytics for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RecomputeDailyAnalytics(ctx, e.Config.User.ID, date, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (default today)")
	return cmd
}

func analyticsShowCmd() *cobra.Command {
	var f repo.AnalyticsFilters
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show analytics rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.UserID = e.Config.User.ID
				items, err := e.Repo.ListAnalytics(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Block", "Planned", "Actual", "Energy", "Done/Planned", "Productivity"})
				for _, a := range items {
					actual := ""
					if a.ActualEnergy != nil {
						actual = *a.ActualEnergy
					}
					tw.AppendRow(table.Row{
						a.Date, a.EnergyBlockID, a.PlannedEnergy, actual,
						fmt.Sprintf("%.2f", a.EnergyScore),
						fmt.Sprintf("%d/%d", a.TasksCompleted, a.TasksPlanned),
						fmt.Sprintf("%.2f", a.ProductivityScore),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Date, "date", "", "single date")
	cmd.Flags().StringVar(&f.DateFrom, "from", "", "date from")
	cmd.Flags().StringVar(&f.DateTo, "to", "", "date to")
	cmd.Flags().StringVar(&f.BlockID, "block", "", "block filter")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: plans, lifecycle changes, analytics runs.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.User.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, nightly string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, nil)
			authCfg := server.AuthConfig{
				JWTSecret:          os.Getenv("PLANLINE_JWT_SECRET"),
				AllowDevUserHeader: viper.GetBool("debug"),
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowDevUserHeader {
				return fmt.Errorf("PLANLINE_JWT_SECRET is required for bearer auth (or run with --debug for the X-User-Id dev header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			c := cron.New()
			if _, err := c.AddFunc(nightly, func() {
				runNightlyAnalytics(conn)
			}); err != nil {
				return fmt.Errorf("nightly schedule: %w", err)
			}
			c.Start()
			defer c.Stop()

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&nightly, "nightly", "15 2 * * *", "cron spec for the nightly analytics recompute")
	return cmd
}

// runNightlyAnalytics recomputes yesterday's rollups for every user.
func runNightlyAnalytics(conn *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	r := repo.Repo{DB: conn}
	users, err := r.ListUsers(ctx)
	if err != nil {
		logger.Error("nightly analytics: list users", "error", err)
		return
	}
	date := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	for _, u := range users {
		_, cfg, err := app.ResolveUserAndConfig(ctx, u.ID, r)
		if err != nil {
			logger.Error("nightly analytics: resolve user", "user_id", u.ID, "error", err)
			continue
		}
		e := engine.New(conn, cfg)
		if _, err := e.RecomputeDailyAnalytics(ctx, u.ID, date, "system"); err != nil {
			logger.Error("nightly analytics: recompute", "user_id", u.ID, "date", date, "error", err)
			continue
		}
		logger.Info("nightly analytics recomputed", "user_id", u.ID, "date", date)
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveUserAndConfig(ctx, viper.GetString("user"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
