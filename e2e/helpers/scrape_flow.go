// Command scrape_flow exercises a full scrape lifecycle against a running
// magpie service.
//
// It connects to the gateway, submits a task over WS, follows the task's
// lifecycle events checking the transition order, then fetches the result
// over HTTP and verifies it matches the terminal status.
//
// Usage: scrape_flow -server http://127.0.0.1:18620 -number 2835 -street KUTER
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	apiclient "github.com/dohr-michael/magpie/clients/api"
	wsclient "github.com/dohr-michael/magpie/clients/ws"
	"github.com/dohr-michael/magpie/internal/events"
	wsprotocol "github.com/dohr-michael/magpie/internal/gateway/ws"
	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/tasks"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:18620", "Gateway base URL")
	number := flag.Int("number", 2835, "House number to search")
	street := flag.String("street", "KUTER", "Street name to search")
	pages := flag.String("pages", "Parcel,Owner", "Comma-separated pages")
	results := flag.Int("results", 1, "Number of parcels to scrape")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	q := records.Query{
		Address:    records.Address{Number: *number, Street: *street},
		Pages:      strings.Split(*pages, ","),
		NumResults: *results,
	}
	if err := run(ctx, *server, q); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func run(ctx context.Context, server string, q records.Query) error {
	// Step 1: connect both surfaces.
	wsURL := strings.Replace(strings.TrimRight(server, "/"), "http", "ws", 1) + "/ws"
	stream, err := wsclient.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}
	defer stream.Close()
	api := apiclient.New(server)
	fmt.Printf("CHECK connected: %s\n", server)

	// Step 2: the service must report a healthy pool before we start.
	h, err := api.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if h.Health != "healthy" {
		return fmt.Errorf("service unhealthy before submit: %+v", h)
	}
	fmt.Printf("CHECK healthy: %d drivers\n", h.DriverPool.Capacity)

	// Step 3: submit over WS and wait for the response frame.
	if err := stream.SubmitTask(q); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	submitted, err := awaitResponse(ctx, stream)
	if err != nil {
		return fmt.Errorf("submit response: %w", err)
	}
	if submitted.Status != tasks.StatusCreated && submitted.Status != tasks.StatusPending {
		return fmt.Errorf("fresh task in status %s", submitted.Status)
	}
	fmt.Printf("CHECK submitted: %s (%s)\n", submitted.ID, submitted.Status)

	// Step 4: follow lifecycle events until a terminal one.
	final, err := followTask(ctx, stream, submitted.ID)
	if err != nil {
		return err
	}
	fmt.Printf("CHECK terminal: %s\n", final)

	// Step 5: the result route must agree with the terminal status.
	switch final {
	case tasks.StatusKilled:
		if _, _, err := api.Result(ctx, submitted.ID); err == nil {
			return fmt.Errorf("killed task unexpectedly has a result")
		}
		fmt.Println("CHECK killed task has no result")
	default:
		done, ready, err := api.Result(ctx, submitted.ID)
		if err != nil && final != tasks.StatusFailed {
			return fmt.Errorf("result: %w", err)
		}
		if err == nil {
			if !ready {
				return fmt.Errorf("result still pending after terminal event")
			}
			if done.Status != final {
				return fmt.Errorf("result status %s, events said %s", done.Status, final)
			}
			fmt.Printf("CHECK result: %d records\n", len(done.Result))
		} else {
			// Failed tasks answer with their error payload and a 5xx.
			fmt.Printf("CHECK failed task reported: %v\n", err)
		}
	}

	// Step 6: the driver must be back in the pool.
	h, err = api.Health(ctx)
	if err != nil {
		return fmt.Errorf("health after run: %w", err)
	}
	if h.DriverPool.Idle+h.DriverPool.Active != h.DriverPool.Capacity {
		return fmt.Errorf("pool leaked a driver: %+v", h.DriverPool)
	}
	fmt.Println("CHECK pool intact")
	return nil
}

// awaitResponse reads frames until the first response, skipping events.
func awaitResponse(ctx context.Context, stream *wsclient.Client) (tasks.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return tasks.Task{}, err
		}
		frame, err := stream.ReadFrame()
		if err != nil {
			return tasks.Task{}, err
		}
		if frame.Type != wsprotocol.FrameTypeResponse {
			continue
		}
		if frame.OK == nil || !*frame.OK {
			return tasks.Task{}, fmt.Errorf("request rejected: %s", frame.Error)
		}
		var t tasks.Task
		if err := json.Unmarshal(frame.Payload, &t); err != nil {
			return tasks.Task{}, fmt.Errorf("decode response: %w", err)
		}
		return t, nil
	}
}

// followTask consumes task events for one task until it turns terminal,
// checking that the transitions arrive in a legal order.
func followTask(ctx context.Context, stream *wsclient.Client, taskID string) (tasks.Status, error) {
	sawRunning := false
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("timeout following %s", taskID)
		}
		frame, err := stream.ReadFrame()
		if err != nil {
			return "", fmt.Errorf("read event: %w", err)
		}
		if frame.Type != wsprotocol.FrameTypeEvent || frame.TaskID != taskID {
			continue
		}
		var evt events.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			continue
		}
		payload, ok := events.GetTaskPayload(evt)
		if !ok {
			continue
		}

		status := tasks.Status(payload.Status)
		fmt.Printf("CHECK event: %s\n", evt.Type)
		switch status {
		case tasks.StatusRunning:
			sawRunning = true
		case tasks.StatusCompleted:
			if !sawRunning {
				return "", fmt.Errorf("completed without ever running")
			}
			return status, nil
		case tasks.StatusFailed, tasks.StatusCancelled, tasks.StatusKilled:
			return status, nil
		}
	}
}
