// Package tasks is the application's action set: tasks grouped into lists
// and tagged with labels. Every action type is a constant here and every
// constant has one method on Handlers, so adding an action is a
// compile-time checked change to this package.
package tasks

import (
	"context"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Entity kinds held in the store.
const (
	EntityTask  = "task"
	EntityList  = "list"
	EntityLabel = "label"
)

// Action types.
const (
	CreateTask   engine.ActionType = "createTask"   // (title, fields?)
	UpdateTask   engine.ActionType = "updateTask"   // (taskID, userID, fields)
	CompleteTask engine.ActionType = "completeTask" // (taskID, userID)
	DeleteTask   engine.ActionType = "deleteTask"   // (taskID)
	CreateList   engine.ActionType = "createList"   // (name)
	RenameList   engine.ActionType = "renameList"   // (listID, name)
	DeleteList   engine.ActionType = "deleteList"   // (listID)
	CreateLabel  engine.ActionType = "createLabel"  // (name, color)
	AttachLabel  engine.ActionType = "attachLabel"  // (taskID, labelID)
)

// Handlers performs each action against the remote authority. Arguments
// arrive decoded; titles and names are NFC-normalized.
type Handlers interface {
	CreateTask(ctx context.Context, title string, fields map[string]any) (engine.Record, error)
	UpdateTask(ctx context.Context, taskID int64, userID string, fields map[string]any) (engine.Record, error)
	CompleteTask(ctx context.Context, taskID int64, userID string) (engine.Record, error)
	DeleteTask(ctx context.Context, taskID int64) error
	CreateList(ctx context.Context, name string) (engine.Record, error)
	RenameList(ctx context.Context, listID int64, name string) (engine.Record, error)
	DeleteList(ctx context.Context, listID int64) error
	CreateLabel(ctx context.Context, name, color string) (engine.Record, error)
	AttachLabel(ctx context.Context, taskID, labelID int64) (engine.Record, error)
}

// Registry builds the engine registry for h.
func Registry(h Handlers) (*engine.Registry, error) {
	return engine.NewRegistry(
		engine.Registration{
			Type: CreateTask, Kind: engine.KindCreate, Entity: EntityTask,
			TargetArg: -1, DataArg: 1,
			Project: projectCreateTask,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				title, err := textArg(args, 0)
				if err != nil {
					return nil, err
				}

				return h.CreateTask(ctx, title, fieldsArg(args, 1))
			},
		},
		engine.Registration{
			Type: UpdateTask, Kind: engine.KindUpdate, Entity: EntityTask,
			TargetArg: 0, DataArg: 2,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				id, err := idArg(args, 0)
				if err != nil {
					return nil, err
				}

				user, err := stringArg(args, 1)
				if err != nil {
					return nil, err
				}

				return h.UpdateTask(ctx, id, user, normalizeFields(fieldsArg(args, 2)))
			},
		},
		engine.Registration{
			Type: CompleteTask, Kind: engine.KindUpdate, Entity: EntityTask,
			TargetArg: 0, DataArg: -1,
			Project: projectComplete,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				id, err := idArg(args, 0)
				if err != nil {
					return nil, err
				}

				user, err := stringArg(args, 1)
				if err != nil {
					return nil, err
				}

				return h.CompleteTask(ctx, id, user)
			},
		},
		engine.Registration{
			Type: DeleteTask, Kind: engine.KindDelete, Entity: EntityTask,
			TargetArg: 0, DataArg: -1,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				id, err := idArg(args, 0)
				if err != nil {
					return nil, err
				}

				return nil, h.DeleteTask(ctx, id)
			},
		},
		engine.Registration{
			Type: CreateList, Kind: engine.KindCreate, Entity: EntityList,
			TargetArg: -1, DataArg: -1,
			Project: projectName(0),
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				name, err := textArg(args, 0)
				if err != nil {
					return nil, err
				}

				return h.CreateList(ctx, name)
			},
		},
		engine.Registration{
			Type: RenameList, Kind: engine.KindUpdate, Entity: EntityList,
			TargetArg: 0, DataArg: -1,
			Project: projectRename,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				id, err := idArg(args, 0)
				if err != nil {
					return nil, err
				}

				name, err := textArg(args, 1)
				if err != nil {
					return nil, err
				}

				return h.RenameList(ctx, id, name)
			},
		},
		engine.Registration{
			Type: DeleteList, Kind: engine.KindDelete, Entity: EntityList,
			TargetArg: 0, DataArg: -1,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				id, err := idArg(args, 0)
				if err != nil {
					return nil, err
				}

				return nil, h.DeleteList(ctx, id)
			},
		},
		engine.Registration{
			Type: CreateLabel, Kind: engine.KindCreate, Entity: EntityLabel,
			TargetArg: -1, DataArg: -1,
			Project: projectLabel,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				name, err := textArg(args, 0)
				if err != nil {
					return nil, err
				}

				color, _ := stringArg(args, 1)

				return h.CreateLabel(ctx, name, color)
			},
		},
		engine.Registration{
			Type: AttachLabel, Kind: engine.KindCommand, Entity: EntityTask,
			TargetArg: 0, DataArg: -1,
			Handler: func(ctx context.Context, args []any) (engine.Record, error) {
				taskID, err := idArg(args, 0)
				if err != nil {
					return nil, err
				}

				labelID, err := idArg(args, 1)
				if err != nil {
					return nil, err
				}

				return h.AttachLabel(ctx, taskID, labelID)
			},
		},
	)
}

// Types lists every action type in declaration order.
func Types() []engine.ActionType {
	return []engine.ActionType{
		CreateTask, UpdateTask, CompleteTask, DeleteTask,
		CreateList, RenameList, DeleteList,
		CreateLabel, AttachLabel,
	}
}
