package tasks

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Doer is the transport API needs; *remote.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// API implements Handlers over the remote authority's REST endpoints.
type API struct {
	client Doer
}

// NewAPI returns Handlers backed by client.
func NewAPI(client Doer) *API {
	return &API{client: client}
}

var _ Handlers = (*API)(nil)

func (a *API) CreateTask(ctx context.Context, title string, fields map[string]any) (engine.Record, error) {
	body := maps.Clone(normalizeFields(fields))
	if body == nil {
		body = make(map[string]any, 1)
	}

	body["title"] = title

	return a.record(ctx, http.MethodPost, "/tasks", body)
}

// UpdateTask sends fields, including any expectedUpdatedAt token, as a
// partial update.
func (a *API) UpdateTask(ctx context.Context, taskID int64, userID string, fields map[string]any) (engine.Record, error) {
	body := maps.Clone(fields)
	if body == nil {
		body = make(map[string]any, 1)
	}

	body["updatedBy"] = userID

	return a.record(ctx, http.MethodPatch, fmt.Sprintf("/tasks/%d", taskID), body)
}

func (a *API) CompleteTask(ctx context.Context, taskID int64, userID string) (engine.Record, error) {
	return a.record(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", taskID),
		map[string]any{"updatedBy": userID})
}

func (a *API) DeleteTask(ctx context.Context, taskID int64) error {
	return a.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/tasks/%d", taskID), nil, nil)
}

func (a *API) CreateList(ctx context.Context, name string) (engine.Record, error) {
	return a.record(ctx, http.MethodPost, "/lists", map[string]any{"name": name})
}

func (a *API) RenameList(ctx context.Context, listID int64, name string) (engine.Record, error) {
	return a.record(ctx, http.MethodPatch, fmt.Sprintf("/lists/%d", listID), map[string]any{"name": name})
}

func (a *API) DeleteList(ctx context.Context, listID int64) error {
	return a.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/lists/%d", listID), nil, nil)
}

func (a *API) CreateLabel(ctx context.Context, name, color string) (engine.Record, error) {
	body := map[string]any{"name": name}
	if color != "" {
		body["color"] = color
	}

	return a.record(ctx, http.MethodPost, "/labels", body)
}

func (a *API) AttachLabel(ctx context.Context, taskID, labelID int64) (engine.Record, error) {
	return a.record(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/labels", taskID),
		map[string]any{"labelId": labelID})
}

func (a *API) record(ctx context.Context, method, path string, body any) (engine.Record, error) {
	var rec engine.Record
	if err := a.client.Do(ctx, method, path, body, &rec); err != nil {
		return nil, err
	}

	return rec, nil
}
