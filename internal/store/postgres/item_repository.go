// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenancy/internal/item"
	"github.com/opentrusty/tenancy/internal/tenancy"
)

// ItemRepository implements item.Repository in the scoped tenant namespace
type ItemRepository struct{}

// NewItemRepository creates a new item repository
func NewItemRepository() *ItemRepository {
	return &ItemRepository{}
}

const itemSelect = `
	SELECT i.id, i.name, i.description, i.created_by, u.username, i.created_at, i.updated_at
	FROM items i
	JOIN users u ON u.id = i.created_by
`

func scanItem(row pgx.Row) (*item.Item, error) {
	var it item.Item
	err := row.Scan(&it.ID, &it.Name, &it.Description, &it.CreatedBy, &it.CreatedByUsername, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// List returns one page of items, newest first, with the total count
func (r *ItemRepository) List(ctx context.Context, limit, offset int) ([]*item.Item, int, error) {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}

	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	rows, err := q.Query(ctx, itemSelect+` ORDER BY i.created_at DESC, i.id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make([]*item.Item, 0, limit)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, count, rows.Err()
}

// Get retrieves an item by ID
func (r *ItemRepository) Get(ctx context.Context, id int64) (*item.Item, error) {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	it, err := scanItem(q.QueryRow(ctx, itemSelect+` WHERE i.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, item.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// Create inserts an item and fills in its generated fields
func (r *ItemRepository) Create(ctx context.Context, it *item.Item) error {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO items (name, description, created_by)
			VALUES ($1, $2, $3)
			RETURNING id, created_by, created_at, updated_at
		)
		SELECT inserted.id, u.username, inserted.created_at, inserted.updated_at
		FROM inserted JOIN users u ON u.id = inserted.created_by
	`, it.Name, it.Description, it.CreatedBy).Scan(&it.ID, &it.CreatedByUsername, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// Update stores name and description
func (r *ItemRepository) Update(ctx context.Context, it *item.Item) error {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	it.UpdatedAt = time.Now()
	result, err := q.Exec(ctx, `
		UPDATE items SET name = $2, description = $3, updated_at = $4 WHERE id = $1
	`, it.ID, it.Name, it.Description, it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return item.ErrItemNotFound
	}
	return nil
}

// Delete removes an item
func (r *ItemRepository) Delete(ctx context.Context, id int64) error {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	result, err := q.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return item.ErrItemNotFound
	}
	return nil
}
