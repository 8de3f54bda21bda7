package repository

import (
	"context"

	"github.com/and161185/todo-keeper/internal/model"
)

// TodoRepository provides ownership-scoped read access to todo lists.
type TodoRepository interface {
	// ListByUser returns one page of the user's lists with their actions, and the total list count.
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.TodoList, int64, error)
}
