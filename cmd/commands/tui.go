package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/magpie/clients/tui"
	wsclient "github.com/dohr-michael/magpie/clients/ws"
)

// NewTUICommand returns the tui subcommand.
func NewTUICommand() *cli.Command {
	return &cli.Command{
		Name:   "tui",
		Usage:  "Launch the interactive task dashboard",
		Flags:  []cli.Flag{serverFlag()},
		Action: runTUI,
	}
}

func runTUI(ctx context.Context, cmd *cli.Command) error {
	base := cmd.String("server")

	client, err := wsclient.Dial(ctx, wsURL(base))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	app := tui.NewApp(newAPIClient(cmd))
	p := tea.NewProgram(app, tea.WithAltScreen())

	// Pump gateway events into the program until the socket closes.
	go func() {
		for {
			frame, err := client.ReadFrame()
			if err != nil {
				p.Send(tui.DisconnectedMsg{Err: err})
				return
			}
			if msg := tui.Project(frame); msg != nil {
				p.Send(msg)
			}
		}
	}()

	_, err = p.Run()
	return err
}
