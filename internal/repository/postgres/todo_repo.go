package postgres

import (
	"context"
	"time"

	"github.com/and161185/todo-keeper/internal/model"
)

// TodoRepo implements TodoRepository using PostgreSQL.
type TodoRepo struct{ db *DB }

// NewTodoRepo constructs a todo repository.
func NewTodoRepo(db *DB) *TodoRepo { return &TodoRepo{db: db} }

// ListByUser returns a page of the user's lists ordered by creation time, with actions attached.
func (r *TodoRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.TodoList, int64, error) {
	const count = `SELECT count(*) FROM todo_lists WHERE user_id=$1`
	const lists = `
SELECT id, title, description, due_date, completed, created_at, updated_at
FROM todo_lists
WHERE user_id=$1
ORDER BY created_at ASC, id ASC
LIMIT $2 OFFSET $3`

	var total int64
	if err := r.db.Pool.QueryRow(ctx, count, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.TodoList{}, 0, nil
	}

	rows, err := r.db.Pool.Query(ctx, lists, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []model.TodoList{}
	ids := []int64{}
	for rows.Next() {
		var (
			l   model.TodoList
			due *time.Time
		)
		if err = rows.Scan(&l.ID, &l.Title, &l.Description, &due, &l.Completed, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, 0, err
		}
		l.UserID, l.DueDate, l.Actions = userID, due, []model.Action{}
		out = append(out, l)
		ids = append(ids, l.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if len(ids) == 0 {
		return out, total, nil
	}
	if err = r.attachActions(ctx, ids, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *TodoRepo) attachActions(ctx context.Context, ids []int64, lists []model.TodoList) error {
	const q = `
SELECT id, todo_list_id, text_description, completed, added_at, updated_at
FROM actions
WHERE todo_list_id = ANY($1)
ORDER BY added_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	pos := make(map[int64]int, len(lists))
	for i, l := range lists {
		pos[l.ID] = i
	}
	for rows.Next() {
		var a model.Action
		if err := rows.Scan(&a.ID, &a.TodoListID, &a.TextDescription, &a.Completed, &a.AddedAt, &a.UpdatedAt); err != nil {
			return err
		}
		if i, ok := pos[a.TodoListID]; ok {
			lists[i].Actions = append(lists[i].Actions, a)
		}
	}
	return rows.Err()
}
