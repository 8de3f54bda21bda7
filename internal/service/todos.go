package service

import (
	"context"
	"fmt"
	"math"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/repository"
)

// Page size bounds for todo listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TodoService defines ownership-scoped reads over todo lists.
type TodoService interface {
	// ListForUser returns one page of the user's lists, oldest first, with actions attached.
	ListForUser(ctx context.Context, userID int64, page, size int) (model.TodoPage, error)
}

type TodoServiceImpl struct {
	repo repository.TodoRepository
}

// NewTodoService constructs TodoService.
func NewTodoService(repo repository.TodoRepository) *TodoServiceImpl {
	return &TodoServiceImpl{repo: repo}
}

// ListForUser clamps the page size to [1, MaxPageSize]; a non-positive size selects the default.
// The offset page*size must fit in an int32.
func (s *TodoServiceImpl) ListForUser(ctx context.Context, userID int64, page, size int) (model.TodoPage, error) {
	if userID <= 0 {
		return model.TodoPage{}, fmt.Errorf("userID %d: %w", userID, errs.ErrValidation)
	}
	if page < 0 {
		return model.TodoPage{}, fmt.Errorf("negative page: %w", errs.ErrValidation)
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	if page > math.MaxInt32/size {
		return model.TodoPage{}, fmt.Errorf("page %d out of range: %w", page, errs.ErrValidation)
	}
	items, total, err := s.repo.ListByUser(ctx, userID, size, page*size)
	if err != nil {
		return model.TodoPage{}, err
	}
	return model.TodoPage{Items: items, Page: page, Size: size, Total: total}, nil
}
