package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/magpie/internal/config"
	"github.com/dohr-michael/magpie/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show magpie service status",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Query the gateway health endpoint instead of the heartbeat file",
			},
		},
		Action: runStatus,
	}
}

func runStatus(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("remote") {
		return runStatusRemote(cmd)
	}

	hbPath := filepath.Join(config.MagpiePath(), "heartbeat.json")
	status, hb, err := heartbeat.Check(hbPath, 2*time.Minute)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}

	switch status {
	case heartbeat.StatusAlive:
		fmt.Printf("Service: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
		fmt.Printf("Drivers: %d/%d idle, %d active\n", hb.PoolIdle, hb.PoolCapacity, hb.PoolActive)
		fmt.Printf("Tasks:   %d live\n", hb.LiveTasks)
	case heartbeat.StatusStale:
		fmt.Printf("Service: STALE (PID %d, last heartbeat %s ago)\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	case heartbeat.StatusDead:
		fmt.Println("Service: NOT RUNNING")
	}

	return nil
}

func runStatusRemote(cmd *cli.Command) error {
	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("query health: %w", err)
	}

	fmt.Printf("Service: %s\n", h.Health)
	fmt.Printf("Drivers: %d/%d idle, %d active\n",
		h.DriverPool.Idle, h.DriverPool.Capacity, h.DriverPool.Active)
	return nil
}
