// Package repository declares the storage interfaces the services depend on.
// Implementations live in sub-packages (repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/ticket-platform/internal/model"
)

// ListOptions pages through List results. A zero Limit uses the
// implementation default.
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository is the local user directory.
//
// Find* methods return (nil, nil) when nothing matches; GetByID and Update
// return apperror.ErrNotFound. Create and Update return apperror.ErrConflict
// when the email or subject id is already taken by another user.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindBySubjectID(ctx context.Context, subjectID string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	List(ctx context.Context, opts ListOptions) ([]model.User, error)
}
