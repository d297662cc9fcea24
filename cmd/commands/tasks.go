package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	apiclient "github.com/dohr-michael/magpie/clients/api"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// serverFlag is the gateway address flag shared by the client commands.
func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "server",
		Usage: "Gateway base URL",
		Value: "http://127.0.0.1:18620",
	}
}

func newAPIClient(cmd *cli.Command) *apiclient.Client {
	return apiclient.New(cmd.String("server"))
}

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and signal scrape tasks",
		Flags: []cli.Flag{serverFlag()},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks known to the service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Comma-separated status filter (e.g. Running,Completed)",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task, keeping any scraped records",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
			{
				Name:      "kill",
				Usage:     "Kill a task immediately, discarding its work",
				ArgsUsage: "<task_id>",
				Action:    runTasksKill,
			},
		},
		DefaultCommand: "list",
	}
}

func clientContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	var statuses []string
	if f := cmd.String("status"); f != "" {
		statuses = strings.Split(f, ",")
	}
	list, err := client.List(ctx, statuses...)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tADDRESS\tRECORDS\tCREATED")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			t.ID,
			t.Status,
			t.Input.Address.String(),
			len(t.Result),
			t.CreatedAt.Format("15:04:05"),
		)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: magpie tasks show <task_id>")
	}

	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	t, err := client.Status(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	printTask(t)
	return nil
}

func printTask(t tasks.Task) {
	fmt.Printf("ID:       %s\n", t.ID)
	fmt.Printf("Status:   %s\n", t.Status)
	fmt.Printf("Address:  %s\n", t.Input.Address.String())
	fmt.Printf("Pages:    %s\n", strings.Join(t.Input.Pages, ", "))
	fmt.Printf("Results:  %d requested\n", t.Input.NumResults)
	fmt.Printf("Created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil {
		fmt.Printf("Started:  %s\n", t.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if t.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", t.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if t.Error != nil {
		fmt.Printf("\nError: [%s] %s\n", t.Error.Kind, t.Error.Message)
	}
	if len(t.Result) > 0 {
		fmt.Println("\nRecords:")
		for i, r := range t.Result {
			fmt.Printf("  %d. %s\n", i+1, r.Heading)
		}
	}
}

func runTasksCancel(_ context.Context, cmd *cli.Command) error {
	return signalTask(cmd, "cancel")
}

func runTasksKill(_ context.Context, cmd *cli.Command) error {
	return signalTask(cmd, "kill")
}

func signalTask(cmd *cli.Command, verb string) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: magpie tasks %s <task_id>", verb)
	}

	client := newAPIClient(cmd)
	ctx, cancel := clientContext()
	defer cancel()

	var t tasks.Task
	var err error
	if verb == "kill" {
		t, err = client.Kill(ctx, taskID)
	} else {
		t, err = client.Cancel(ctx, taskID)
	}
	if err != nil {
		return fmt.Errorf("%s task: %w", verb, err)
	}

	fmt.Printf("Task %s is now %s.\n", t.ID, t.Status)
	return nil
}
