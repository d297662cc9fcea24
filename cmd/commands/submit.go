package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// NewSubmitCommand returns the submit subcommand.
func NewSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a scrape task for a property address",
		ArgsUsage: "<number> <street> [directional]",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{
				Name:  "pages",
				Usage: "Comma-separated pages to scrape (empty = all)",
			},
			&cli.IntFlag{
				Name:    "results",
				Aliases: []string{"n"},
				Usage:   "Number of matching parcels to scrape",
				Value:   1,
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the task finishes and print the result",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Wait timeout in seconds",
				Value: 300,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the finished task as JSON",
			},
		},
		Action: runSubmit,
	}
}

func runSubmit(_ context.Context, cmd *cli.Command) error {
	args := cmd.Args()
	if args.Len() < 2 {
		return fmt.Errorf("usage: magpie submit <number> <street> [directional]")
	}
	number, err := strconv.Atoi(args.Get(0))
	if err != nil {
		return fmt.Errorf("house number must be an integer: %q", args.Get(0))
	}

	q := records.Query{
		Address: records.Address{
			Number:      number,
			Street:      args.Get(1),
			Directional: args.Get(2),
		},
		Pages:      records.AllPages,
		NumResults: cmd.Int("results"),
	}
	if pages := cmd.String("pages"); pages != "" {
		q.Pages = nil
		for _, p := range strings.Split(pages, ",") {
			q.Pages = append(q.Pages, strings.TrimSpace(p))
		}
	}
	if err := q.Validate(); err != nil {
		return err
	}

	client := newAPIClient(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	t, err := client.Submit(ctx, q)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Fprintf(os.Stderr, "task: %s (%s)\n", t.ID, t.Status)

	if !cmd.Bool("wait") {
		return nil
	}

	// Poll until the task reaches a terminal state.
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for task %s", t.ID)
		case <-time.After(2 * time.Second):
		}

		done, ready, err := client.Result(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("fetch result: %w", err)
		}
		if !ready {
			continue
		}
		return printResult(done, cmd.Bool("json"))
	}
}

func printResult(t tasks.Task, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("task %s: %s\n", t.ID, t.Status)
	if t.Error != nil {
		fmt.Printf("error: [%s] %s\n", t.Error.Kind, t.Error.Message)
	}
	for i, r := range t.Result {
		fmt.Printf("  %d. %s\n", i+1, r.Heading)
	}
	if t.Status == tasks.StatusCompleted && len(t.Result) == 0 {
		fmt.Println("  no records scraped")
	}
	return nil
}
