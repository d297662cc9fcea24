package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewArchiveCommand returns the archive subcommand.
func NewArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Browse archived scrape results",
		Flags: []cli.Flag{serverFlag()},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List archived tasks, most recent first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "street",
						Usage: "Filter by street name substring",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum entries to show",
						Value: 20,
					},
				},
				Action: runArchiveList,
			},
			{
				Name:      "show",
				Usage:     "Show one archived task",
				ArgsUsage: "<task_id>",
				Action:    runArchiveShow,
			},
		},
		DefaultCommand: "list",
	}
}

func runArchiveList(_ context.Context, cmd *cli.Command) error {
	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	entries, err := client.Archive(ctx, cmd.String("street"), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("list archive: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Archive is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tADDRESS\tRECORDS\tFINISHED")
	for _, e := range entries {
		finished := "-"
		if e.FinishedAt != nil {
			finished = e.FinishedAt.Format("2006-01-02 15:04")
		}
		addr := fmt.Sprintf("%d %s", e.Number, e.Street)
		if e.Directional != "" {
			addr += " " + e.Directional
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.TaskID, e.Status, addr, e.Records, finished)
	}
	return w.Flush()
}

func runArchiveShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: magpie archive show <task_id>")
	}

	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	t, err := client.ArchivedTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load archived task: %w", err)
	}

	printTask(t)
	return nil
}
