package admins

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAdminNotFound = errors.New("admin not found")
	ErrAdminExists   = errors.New("admin already exists")
)

// Admin is a school portal account.
type Admin struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

type Admins interface {
	Create(ctx context.Context, a *Admin) error
	GetByEmail(ctx context.Context, email string) (Admin, error)
}
