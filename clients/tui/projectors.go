package tui

import (
	"encoding/json"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dohr-michael/magpie/internal/events"
	ws "github.com/dohr-michael/magpie/internal/gateway/ws"
)

// Project converts a gateway WS Frame into a typed tea.Msg.
// Returns nil for frames that don't map to a TUI message.
func Project(frame ws.Frame) tea.Msg {
	if frame.Event == "" {
		return nil
	}

	eventType := events.EventType(frame.Event)
	switch {
	case eventType == events.EventTaskEvicted:
		return projectTaskEvicted(frame)
	case strings.HasPrefix(frame.Event, "task."):
		return projectTask(frame, eventType)
	case eventType == events.EventPoolStats:
		return projectPoolStats(frame)
	case eventType == events.EventSweep:
		return projectSweep(frame)
	default:
		return nil
	}
}

func projectTask(frame ws.Frame, eventType events.EventType) tea.Msg {
	var evt events.Event
	if err := json.Unmarshal(frame.Payload, &evt); err != nil {
		return nil
	}
	payload, ok := events.GetTaskPayload(evt)
	if !ok || payload.TaskID == "" {
		return nil
	}
	return TaskEventMsg{Type: eventType, Payload: payload}
}

func projectTaskEvicted(frame ws.Frame) tea.Msg {
	var evt events.Event
	if err := json.Unmarshal(frame.Payload, &evt); err != nil {
		return nil
	}
	payload, ok := events.ExtractPayload[events.TaskEvictedPayload](evt)
	if !ok {
		return nil
	}
	return TaskEvictedMsg{TaskID: payload.TaskID}
}

func projectPoolStats(frame ws.Frame) tea.Msg {
	var evt events.Event
	if err := json.Unmarshal(frame.Payload, &evt); err != nil {
		return nil
	}
	payload, ok := events.GetPoolStatsPayload(evt)
	if !ok {
		return nil
	}
	return PoolStatsMsg{Payload: payload}
}

func projectSweep(frame ws.Frame) tea.Msg {
	var evt events.Event
	if err := json.Unmarshal(frame.Payload, &evt); err != nil {
		return nil
	}
	payload, ok := events.ExtractPayload[events.SweepPayload](evt)
	if !ok {
		return nil
	}
	return SweepMsg{Payload: payload}
}
