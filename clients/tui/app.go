package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	apiclient "github.com/dohr-michael/magpie/clients/api"
	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/tasks"
)

const refreshEvery = 2 * time.Second

// taskView is one dashboard row: the latest snapshot plus the record count
// reported by lifecycle events between polls.
type taskView struct {
	tasks.Task
	records int
}

// App is the dashboard model: a live task table fed by HTTP polls and the
// WS event stream.
type App struct {
	api   *apiclient.Client
	table table.Model
	spin  spinner.Model

	tasks map[string]taskView
	pool  events.PoolStatsPayload

	width     int
	height    int
	connected bool
	statusMsg string
	lastErr   error
	quitting  bool
}

// NewApp creates the dashboard model against a gateway REST client.
func NewApp(api *apiclient.Client) *App {
	columns := []table.Column{
		{Title: "ID", Width: 14},
		{Title: "STATUS", Width: 10},
		{Title: "ADDRESS", Width: 26},
		{Title: "RECORDS", Width: 7},
		{Title: "AGE", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		Bold(true).
		Foreground(ColorStatusFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorBorder).
		BorderBottom(true)
	st.Selected = st.Selected.
		Foreground(ColorLive).
		Bold(true)
	t.SetStyles(st)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorLive)

	return &App{
		api:   api,
		table: t,
		spin:  s,
		tasks: make(map[string]taskView),
	}
}

// Init starts the spinner, the first fetch, and the refresh timer.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.fetchTasks(), tick())
}

// Update handles messages and updates state.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.table.SetWidth(msg.Width)
		tableHeight := msg.Height - 5 // title + header rule + status + help
		if tableHeight < 3 {
			tableHeight = 3
		}
		a.table.SetHeight(tableHeight)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "r":
			return a, a.fetchTasks()
		case "c":
			return a, a.signalSelected("cancel")
		case "K":
			return a, a.signalSelected("kill")
		}

	case tickMsg:
		return a, tea.Batch(a.fetchTasks(), tick())

	case TasksLoadedMsg:
		a.connected = true
		a.lastErr = nil
		fresh := make(map[string]taskView, len(msg.Tasks))
		for _, t := range msg.Tasks {
			fresh[t.ID] = taskView{Task: t, records: len(t.Result)}
		}
		a.tasks = fresh
		a.rebuildRows()
		return a, nil

	case TaskEventMsg:
		a.applyTaskEvent(msg)
		a.rebuildRows()
		return a, nil

	case TaskEvictedMsg:
		delete(a.tasks, msg.TaskID)
		a.rebuildRows()
		return a, nil

	case PoolStatsMsg:
		a.pool = msg.Payload
		return a, nil

	case SweepMsg:
		a.statusMsg = fmt.Sprintf("sweep: %d pruned, %d rogues, %d evicted",
			msg.Payload.TrashPruned, msg.Payload.RoguesKilled, msg.Payload.TasksEvicted)
		return a, nil

	case actionResultMsg:
		if msg.err != nil {
			a.lastErr = msg.err
		} else {
			a.statusMsg = fmt.Sprintf("%s %s: now %s", msg.verb, msg.task.ID, msg.task.Status)
		}
		return a, a.fetchTasks()

	case fetchErrorMsg:
		a.connected = false
		a.lastErr = msg.err
		return a, nil

	case DisconnectedMsg:
		a.connected = false
		if msg.Err != nil {
			a.lastErr = msg.Err
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// applyTaskEvent merges one lifecycle transition into the row set.
func (a *App) applyTaskEvent(msg TaskEventMsg) {
	p := msg.Payload
	tv, ok := a.tasks[p.TaskID]
	if !ok {
		tv = taskView{}
		tv.ID = p.TaskID
		tv.CreatedAt = time.Now()
	}
	tv.Status = tasks.Status(p.Status)
	tv.StatusCode = p.StatusCode
	if p.Street != "" {
		tv.Input.Address.Street = p.Street
	}
	if p.Records > 0 {
		tv.records = p.Records
	}
	a.tasks[p.TaskID] = tv
	a.statusMsg = fmt.Sprintf("%s: %s", p.TaskID, msg.Type)
}

// rebuildRows regenerates the table rows, oldest submission first.
func (a *App) rebuildRows() {
	views := make([]taskView, 0, len(a.tasks))
	for _, tv := range a.tasks {
		views = append(views, tv)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})

	rows := make([]table.Row, len(views))
	for i, tv := range views {
		rows[i] = table.Row{
			tv.ID,
			string(tv.Status),
			tv.Input.Address.String(),
			fmt.Sprintf("%d", tv.records),
			fmtAge(tv.CreatedAt),
		}
	}
	a.table.SetRows(rows)
}

// fetchTasks loads the current task list over HTTP.
func (a *App) fetchTasks() tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		list, err := api.List(ctx)
		if err != nil {
			return fetchErrorMsg{err: err}
		}
		return TasksLoadedMsg{Tasks: list}
	}
}

// signalSelected cancels or kills the task under the cursor.
func (a *App) signalSelected(verb string) tea.Cmd {
	row := a.table.SelectedRow()
	if len(row) == 0 {
		return nil
	}
	id := row[0]
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var (
			t   tasks.Task
			err error
		)
		if verb == "kill" {
			t, err = api.Kill(ctx, id)
		} else {
			t, err = api.Cancel(ctx, id)
		}
		return actionResultMsg{verb: verb, task: t, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// View renders the dashboard: TITLE | TABLE | STATUS | HELP.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	title := TitleStyle.Render("magpie")
	if a.liveCount() > 0 {
		title += " " + a.spin.View() + MutedStyle.Render("scraping")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		a.table.View(),
		a.statusLine(),
		HelpStyle.Render("q quit · r refresh · c cancel · K kill"),
	)
}

func (a *App) liveCount() int {
	n := 0
	for _, tv := range a.tasks {
		if !tv.Status.Terminal() {
			n++
		}
	}
	return n
}

func (a *App) statusLine() string {
	conn := statusStyle(tasks.StatusCompleted).Render("connected")
	if !a.connected {
		conn = ErrorStyle.Render("disconnected")
	}

	line := fmt.Sprintf("pool %d/%d idle · %d tasks (%s live) · %s",
		a.pool.Idle, a.pool.Capacity,
		len(a.tasks),
		statusStyle(tasks.StatusRunning).Render(fmt.Sprintf("%d", a.liveCount())),
		conn,
	)
	if a.lastErr != nil {
		line += " · " + ErrorStyle.Render(a.lastErr.Error())
	} else if a.statusMsg != "" {
		line += " · " + MutedStyle.Render(a.statusMsg)
	}

	return StatusBarStyle.Width(a.width).Render(line)
}

// fmtAge renders how long ago a task was created.
func fmtAge(created time.Time) string {
	if created.IsZero() {
		return "-"
	}
	d := time.Since(created)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
