package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// TaskUpdate is one frame of a task stream: exactly one of Status or
// Artifact is set.
type TaskUpdate struct {
	Status   *a2a.TaskStatusUpdateEvent
	Artifact *a2a.TaskArtifactUpdateEvent
}

// SendTaskSubscribe calls tasks/sendSubscribe and consumes the resulting
// SSE stream. The update channel closes when the stream ends; a stream
// error arrives on the error channel first.
func (c *Client) SendTaskSubscribe(ctx context.Context, params *a2a.TaskSendParams) (<-chan TaskUpdate, <-chan error) {
	return c.streamTask(ctx, "tasks/sendSubscribe", params)
}

// Resubscribe calls tasks/resubscribe and consumes the resulting stream.
func (c *Client) Resubscribe(ctx context.Context, taskID string) (<-chan TaskUpdate, <-chan error) {
	return c.streamTask(ctx, "tasks/resubscribe", &a2a.TaskIdParams{ID: taskID})
}

func (c *Client) streamTask(ctx context.Context, method string, params any) (<-chan TaskUpdate, <-chan error) {
	updates := make(chan TaskUpdate)
	errs := make(chan error, 1)

	resp, err := c.openStream(ctx, method, params)
	if err != nil {
		errs <- err
		close(updates)
		close(errs)
		return updates, errs
	}

	go func() {
		defer resp.Body.Close()
		defer close(updates)
		defer close(errs)

		err := scanFrames(resp.Body, func(data string) error {
			update, err := decodeTaskFrame(data)
			if err != nil {
				return err
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()
	return updates, errs
}

// KnowledgeSubscribe calls knowledge/subscribe and consumes the resulting
// stream of change events.
func (c *Client) KnowledgeSubscribe(ctx context.Context, params *a2a.KnowledgeSubscribeParams) (<-chan a2a.KnowledgeGraphChangeEvent, <-chan error) {
	events := make(chan a2a.KnowledgeGraphChangeEvent)
	errs := make(chan error, 1)

	resp, err := c.openStream(ctx, "knowledge/subscribe", params)
	if err != nil {
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}

	go func() {
		defer resp.Body.Close()
		defer close(events)
		defer close(errs)

		err := scanFrames(resp.Body, func(data string) error {
			var envelope struct {
				Result *a2a.KnowledgeGraphChangeEvent `json:"result"`
				Error  *a2a.JSONRPCError              `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &envelope); err != nil {
				return fmt.Errorf("failed to decode change event: %w", err)
			}
			if envelope.Error != nil {
				return &a2a.Error{
					Code:    envelope.Error.Code,
					Message: envelope.Error.Message,
					Data:    envelope.Error.Data,
				}
			}
			if envelope.Result == nil {
				return nil
			}
			select {
			case events <- *envelope.Result:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()
	return events, errs
}

// openStream POSTs the request and verifies the server answered with an
// event stream.
func (c *Client) openStream(ctx context.Context, method string, params any) (*http.Response, error) {
	resp, err := c.post(ctx, method, params, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var envelope struct {
			Error *a2a.JSONRPCError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != nil {
			return nil, &a2a.Error{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Data:    envelope.Error.Data,
			}
		}
		return nil, fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned content type %q, expected event stream", method, ct)
	}
	c.logger.Debug("stream opened", zap.String("method", method))
	return resp, nil
}

// scanFrames reads `data:` SSE frames and hands each payload to fn.
func scanFrames(body io.Reader, fn func(data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				if err := fn(data.String()); err != nil {
					return err
				}
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[5:]))
		}
	}
	if data.Len() > 0 {
		if err := fn(data.String()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// decodeTaskFrame distinguishes status and artifact frames by shape.
func decodeTaskFrame(data string) (TaskUpdate, error) {
	var envelope struct {
		Result json.RawMessage   `json:"result"`
		Error  *a2a.JSONRPCError `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return TaskUpdate{}, fmt.Errorf("failed to decode stream frame: %w", err)
	}
	if envelope.Error != nil {
		return TaskUpdate{}, &a2a.Error{
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
			Data:    envelope.Error.Data,
		}
	}

	var probe struct {
		Status   *json.RawMessage `json:"status"`
		Artifact *json.RawMessage `json:"artifact"`
	}
	if err := json.Unmarshal(envelope.Result, &probe); err != nil {
		return TaskUpdate{}, fmt.Errorf("failed to probe stream frame: %w", err)
	}

	switch {
	case probe.Status != nil:
		var event a2a.TaskStatusUpdateEvent
		if err := json.Unmarshal(envelope.Result, &event); err != nil {
			return TaskUpdate{}, fmt.Errorf("failed to decode status update: %w", err)
		}
		return TaskUpdate{Status: &event}, nil
	case probe.Artifact != nil:
		var event a2a.TaskArtifactUpdateEvent
		if err := json.Unmarshal(envelope.Result, &event); err != nil {
			return TaskUpdate{}, fmt.Errorf("failed to decode artifact update: %w", err)
		}
		return TaskUpdate{Artifact: &event}, nil
	default:
		return TaskUpdate{}, fmt.Errorf("unrecognised stream frame: %s", data)
	}
}
