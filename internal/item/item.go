package item

import (
	"context"
	"errors"
	"time"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrInvalidItem  = errors.New("invalid item")
	ErrInvalidPage  = errors.New("invalid page")
)

// MaxNameLength bounds Item.Name
const MaxNameLength = 200

// Item is a record owned by one tenant namespace
type Item struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	CreatedBy         int64     `json:"created_by"`
	CreatedByUsername string    `json:"created_by_username"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Repository defines the interface for item storage. Implementations operate
// on the namespace of the tenant scope carried by ctx.
type Repository interface {
	// List returns one page, newest first, and the total count.
	List(ctx context.Context, limit, offset int) ([]*Item, int, error)
	Get(ctx context.Context, id int64) (*Item, error)
	Create(ctx context.Context, item *Item) error
	Update(ctx context.Context, item *Item) error
	Delete(ctx context.Context, id int64) error
}
