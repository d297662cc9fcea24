package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/magpie/clients/ws"
	"github.com/dohr-michael/magpie/internal/events"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream service events to the terminal",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print full event frames as JSON",
			},
		},
		Action: runWatch,
	}
}

// wsURL turns the gateway base URL into its WebSocket endpoint.
func wsURL(base string) string {
	u := strings.TrimRight(base, "/")
	if strings.HasPrefix(u, "http") {
		u = "ws" + strings.TrimPrefix(u, "http")
	}
	return u + "/ws"
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	client, err := wsclient.Dial(ctx, wsURL(cmd.String("server")))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	fmt.Fprintln(os.Stderr, "watching events, ctrl+c to stop")

	raw := cmd.Bool("raw")
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Event == "" {
			continue
		}

		if raw {
			fmt.Println(string(frame.Payload))
			continue
		}

		var evt events.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			continue
		}
		fmt.Printf("%s  %-18s %s\n",
			evt.Timestamp.Format("15:04:05"), evt.Type, describeEvent(evt))
	}
}

// describeEvent renders the one-line summary for a bus event.
func describeEvent(evt events.Event) string {
	switch evt.Type {
	case events.EventPoolStats:
		if p, ok := events.GetPoolStatsPayload(evt); ok {
			return fmt.Sprintf("capacity=%d idle=%d active=%d", p.Capacity, p.Idle, p.Active)
		}
	case events.EventSweep:
		if p, ok := events.ExtractPayload[events.SweepPayload](evt); ok {
			return fmt.Sprintf("pruned=%d rogues=%d evicted=%d", p.TrashPruned, p.RoguesKilled, p.TasksEvicted)
		}
	case events.EventDriverCreated, events.EventDriverCheckout, events.EventDriverReturned,
		events.EventDriverKilled, events.EventDriverDestroyed:
		if p, ok := events.ExtractPayload[events.DriverPayload](evt); ok {
			s := p.DriverID
			if p.TaskID != "" {
				s += " task=" + p.TaskID
			}
			return s
		}
	default:
		if p, ok := events.GetTaskPayload(evt); ok {
			s := fmt.Sprintf("%s %s", p.TaskID, p.Street)
			if p.Records > 0 {
				s += fmt.Sprintf(" records=%d", p.Records)
			}
			if p.ErrorMsg != "" {
				s += fmt.Sprintf(" error=%q", p.ErrorMsg)
			}
			return s
		}
	}
	if evt.TaskID != "" {
		return evt.TaskID
	}
	return string(evt.Source)
}
