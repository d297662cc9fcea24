package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewStatsCommand returns the stats subcommand.
func NewStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show daily scrape counters",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{
				Name:  "day",
				Usage: "Day to show (YYYY-MM-DD, default today)",
			},
		},
		Action: runStats,
	}
}

func runStats(_ context.Context, cmd *cli.Command) error {
	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	s, err := client.Stats(ctx, cmd.String("day"))
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}

	fmt.Printf("Date:      %s\n", s.Date)
	fmt.Printf("Submitted: %d\n", s.Submitted)
	fmt.Printf("Completed: %d\n", s.Completed)
	fmt.Printf("Failed:    %d\n", s.Failed)
	fmt.Printf("Cancelled: %d\n", s.Cancelled)
	fmt.Printf("Killed:    %d\n", s.Killed)
	fmt.Printf("Records:   %d\n", s.Records)
	return nil
}
