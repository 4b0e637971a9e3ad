package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	agent "github.com/paradrop/agent"
	"github.com/paradrop/agent/internal/chute"
	"github.com/paradrop/agent/pkg/client"
)

func newClient(globals *GlobalFlags) *client.Client {
	cfg := client.DefaultConfig()
	cfg.BaseURL = globals.APIUrl
	return client.New(cfg)
}

func createServeCommand() *cobra.Command {
	var configPath, pidFile, logFile string
	var daemon bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			if daemon {
				if err := daemonize(pidFile, logFile); err != nil {
					return err
				}
			}
			cfg, err := agent.LoadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := agent.New(cfg, chute.NoopRuntime{})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				a.Stop()
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			a.Stop()
			return removePidFile(pidFile)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/paradrop/paradrop.toml", "path to the agent configuration file")
	cmd.Flags().BoolVar(&daemon, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&pidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&logFile, "logfile", "", "redirect daemon stdout/stderr to this file")
	return cmd
}

func createChuteCommand(globals *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chute",
		Short: "Manage chutes on a running agent",
	}
	cmd.AddCommand(
		createChuteInstallCommand(globals, "install", "Install a new chute"),
		createChuteInstallCommand(globals, "update", "Apply a new declaration to a chute"),
		createChuteActionCommand(globals, "delete", "Remove a chute"),
		createChuteActionCommand(globals, "start", "Start a stopped chute"),
		createChuteActionCommand(globals, "stop", "Stop a running chute"),
		createChuteActionCommand(globals, "restart", "Restart a chute"),
		createChuteListCommand(globals),
	)
	return cmd
}

func createChuteInstallCommand(globals *GlobalFlags, verb, short string) *cobra.Command {
	var version, configFile string

	cmd := &cobra.Command{
		Use:   verb + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.ChuteRequest{Name: args[0], Version: version}
			if configFile != "" {
				data, err := os.ReadFile(configFile)
				if err != nil {
					return fmt.Errorf("read config file: %w", err)
				}
				if err := json.Unmarshal(data, &req.Config); err != nil {
					return fmt.Errorf("parse config file: %w", err)
				}
			}
			c := newClient(globals)
			ctx, cancel := commandContext()
			defer cancel()

			var res *client.OperationResult
			var err error
			if verb == "install" {
				res, err = c.CreateChute(ctx, req)
			} else {
				res, err = c.UpdateChute(ctx, args[0], req)
			}
			return printResult(cmd, res, err)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "chute version")
	cmd.Flags().StringVar(&configFile, "config", "", "path to a JSON file with the chute config blob")
	return cmd
}

func createChuteActionCommand(globals *GlobalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(globals)
			ctx, cancel := commandContext()
			defer cancel()

			var res *client.OperationResult
			var err error
			switch verb {
			case "delete":
				res, err = c.DeleteChute(ctx, args[0])
			case "start":
				res, err = c.StartChute(ctx, args[0])
			case "stop":
				res, err = c.StopChute(ctx, args[0])
			case "restart":
				res, err = c.RestartChute(ctx, args[0])
			}
			return printResult(cmd, res, err)
		},
	}
}

func createChuteListCommand(globals *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed chutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(globals)
			ctx, cancel := commandContext()
			defer cancel()
			list, err := c.ListChutes(ctx)
			if err != nil {
				return err
			}
			for _, ch := range list {
				state := "stopped"
				if ch.Running {
					state = "running"
				}
				cmd.Printf("%s\t%s\t%s\n", ch.Name, ch.Version, state)
			}
			return nil
		},
	}
}

func createHostConfigCommand(globals *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hostconfig",
		Short: "Manage host router configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set FILE",
		Short: "Apply a host configuration blob from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read host config: %w", err)
			}
			var blob map[string]any
			if err := json.Unmarshal(data, &blob); err != nil {
				return fmt.Errorf("parse host config: %w", err)
			}
			c := newClient(globals)
			ctx, cancel := commandContext()
			defer cancel()
			res, err := c.SetHostConfig(ctx, blob)
			return printResult(cmd, res, err)
		},
	})
	return cmd
}

func createStatusCommand(globals *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(globals)
			ctx, cancel := commandContext()
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("router: %s\n", st.RouterID)
			cmd.Printf("updates in progress: %d\n", len(st.InProgress))
			for _, id := range st.InProgress {
				cmd.Printf("  %s\n", id)
			}
			return nil
		},
	}
}

func createPollCommand(globals *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Trigger an immediate fetch of pending updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(globals)
			ctx, cancel := commandContext()
			defer cancel()
			if err := c.TriggerPoll(ctx); err != nil {
				return err
			}
			cmd.Println("poll triggered")
			return nil
		},
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func printResult(cmd *cobra.Command, res *client.OperationResult, err error) error {
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("update failed: %s", res.Message)
	}
	cmd.Println(res.Message)
	return nil
}
