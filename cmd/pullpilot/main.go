package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(newCommand(os.Stdin, os.Stdout, os.Stderr))
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(pc command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.SetOut(pc.out)
	root.SetErr(pc.errOut)
	root.AddCommand(
		createStatusCommand(pc, globalFlags),
		createHistoryCommand(pc, globalFlags),
		createUpdateCommand(pc, globalFlags),
		createUpdateAllCommand(pc, globalFlags),
		createToggleCommand(pc, globalFlags),
		createWatchCommand(pc, globalFlags),
		createScheduleCommand(pc, globalFlags),
		createLoginCommand(pc, globalFlags),
		createLogoutCommand(pc, globalFlags),
		createDashboardCommand(pc, globalFlags),
		createGatewaySimCommand(pc, globalFlags),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "pullpilot",
		Short: "Fleet update controller for container deployment units",
		Long: `PullPilot drives a fleet-update gateway: it lists deployment units,
updates one unit or the whole fleet, follows progress and manages
recurring update schedules. When the gateway is unreachable it shows
simulated data.

Examples:
  pullpilot status
  pullpilot update plex
  pullpilot update-all --watch
  pullpilot schedule add --frequency weekly --day tue --hour 9 --minute 30
  pullpilot dashboard --listen 127.0.0.1:8090`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (toml or yaml, optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "gateway API URL (default http://127.0.0.1:8000/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 0, "gateway request timeout (default 10s)")
	return root
}

func createStatusCommand(pc command, g *GlobalFlags) *cobra.Command {
	f := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployment units and any running fleet update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Status(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createHistoryCommand(pc command, g *GlobalFlags) *cobra.Command {
	f := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the update log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.History(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func createUpdateCommand(pc command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <unit>",
		Short: "Pull and restart a single unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Update(cmd.Context(), *g, args[0])
		},
	}
}

func createUpdateAllCommand(pc command, g *GlobalFlags) *cobra.Command {
	f := &UpdateAllFlags{}
	cmd := &cobra.Command{
		Use:   "update-all",
		Short: "Update every unit that is not excluded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.UpdateAll(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().BoolVarP(&f.Yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVarP(&f.Watch, "watch", "w", false, "follow progress until the update finishes")
	return cmd
}

func createToggleCommand(pc command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "toggle <unit> exclude|fullstop",
		Short:     "Flip a unit's exclude or full-stop setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(fleet.SettingExclude), string(fleet.SettingFullStop)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Toggle(cmd.Context(), *g, args[0], args[1])
		},
	}
}

func createWatchCommand(pc command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow a running fleet update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Watch(cmd.Context(), *g)
		},
	}
}

func addScheduleFlags(cmd *cobra.Command, f *ScheduleFlags) {
	cmd.Flags().StringVar(&f.Target, "target", fleet.GlobalTarget, "unit name or GLOBAL")
	cmd.Flags().StringVar(&f.Frequency, "frequency", "daily", "daily, weekly or monthly")
	cmd.Flags().StringVar(&f.WeekDay, "day", "mon", "day of week for weekly schedules (mon..sun)")
	cmd.Flags().IntVar(&f.DayOfMonth, "dom", 1, "day of month for monthly schedules (1-28)")
	cmd.Flags().IntVar(&f.Hour, "hour", 4, "hour (0-23)")
	cmd.Flags().IntVar(&f.Minute, "minute", 0, "minute (0-59)")
}

func createScheduleCommand(pc command, g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring updates",
	}

	listFlags := &OutputFlags{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.ScheduleList(cmd.Context(), *g, *listFlags)
		},
	}
	list.Flags().BoolVar(&listFlags.JSON, "json", false, "print JSON")

	addFlags := &ScheduleFlags{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.ScheduleAdd(cmd.Context(), *g, *addFlags)
		},
	}
	addScheduleFlags(add, addFlags)

	delFlags := &DeleteFlags{}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.ScheduleDelete(cmd.Context(), *g, *delFlags, args[0])
		},
	}
	del.Flags().BoolVarP(&delFlags.Yes, "yes", "y", false, "do not ask for confirmation")

	previewFlags := &ScheduleFlags{}
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Show the expression and next run for a schedule without creating it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.SchedulePreview(*previewFlags, time.Now())
		},
	}
	addScheduleFlags(preview, previewFlags)

	cmd.AddCommand(list, add, del, preview)
	return cmd
}

func createLoginCommand(pc command, g *GlobalFlags) *cobra.Command {
	f := &LoginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Login(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().StringVarP(&f.Username, "username", "u", "", "username (prompted when empty)")
	cmd.Flags().BoolVar(&f.PasswordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func createLogoutCommand(pc command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Logout(cmd.Context(), *g)
		},
	}
}

func createDashboardCommand(pc command, g *GlobalFlags) *cobra.Command {
	f := &DashboardFlags{}
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the dashboard API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.Dashboard(cmd.Context(), *g, *f, nil)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (default 127.0.0.1:8090)")
	return cmd
}

func createGatewaySimCommand(pc command, g *GlobalFlags) *cobra.Command {
	f := &GatewaySimFlags{}
	cmd := &cobra.Command{
		Use:   "gateway-sim",
		Short: "Run a simulated gateway for demos",
		Long: `Runs an in-memory gateway seeded with demo units. Fleet updates only
advance a progress counter; nothing is pulled or restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pc.GatewaySim(cmd.Context(), *g, *f, nil)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringVar(&f.Username, "username", "", "require login with this username")
	cmd.Flags().StringVar(&f.Password, "password", "", "password for --username")
	cmd.Flags().DurationVar(&f.Step, "step", time.Second, "time per unit during a fleet update")
	return cmd
}
