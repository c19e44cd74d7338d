package httpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"prevant/internal/apps"
	"prevant/internal/domain"
	"prevant/internal/queue"
)

// taskPayload is the JSON shape carried in domain.Task.Payload for every
// kind this server enqueues. Fields unused by a given Kind are left zero.
type taskPayload struct {
	StatusID       string                  `json:"statusId"`
	CreateOrUpdate *apps.CreateOrUpdateRequest `json:"createOrUpdate,omitempty"`
	RestorePayload []byte                  `json:"restorePayload,omitempty"`
}

func (s *Server) enqueue(ctx context.Context, app domain.AppName, kind domain.TaskKind, statusID string, p taskPayload) error {
	p.StatusID = statusID
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	return s.queue.Enqueue(ctx, domain.Task{
		ID:      uuid.NewString(),
		AppName: app,
		Kind:    kind,
		Payload: raw,
	})
}

// TaskHandler builds the queue.Handler a worker loop runs against this
// server's Apps Service: it decodes the payload domain.Task.Payload
// carries and dispatches to the ViaQueue variant of the apps.Service
// operation the synchronous HTTP path would call. The ViaQueue variants
// block on the app's guard instead of returning Conflict, since a
// queue-claimed task is expected to wait its turn rather than fail.
func (s *Server) TaskHandler() queue.Handler {
	return func(ctx context.Context, task domain.Task) ([]byte, error) {
		var p taskPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal task %s payload: %w", task.ID, err)
		}

		switch task.Kind {
		case domain.TaskCreate:
			result, err := s.apps.CreateOrUpdateViaQueue(ctx, p.StatusID, task.AppName, *p.CreateOrUpdate)
			return encodeResult(result), err
		case domain.TaskDelete:
			result, err := s.apps.DeleteAppViaQueue(ctx, p.StatusID, task.AppName)
			return encodeResult(result), err
		case domain.TaskRestore:
			result, err := s.apps.RestoreAppViaQueue(ctx, p.StatusID, task.AppName, p.RestorePayload)
			return encodeResult(result), err
		default:
			return nil, fmt.Errorf("task %s: unhandled kind %q", task.ID, task.Kind)
		}
	}
}

func encodeResult(services []domain.Service) []byte {
	raw, err := json.Marshal(services)
	if err != nil {
		return nil
	}
	return raw
}
