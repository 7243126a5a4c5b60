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

package item

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Service provides item CRUD inside the current tenant namespace
type Service struct {
	repo     Repository
	pageSize int
}

// NewService creates a new item service
func NewService(repo Repository, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Service{repo: repo, pageSize: pageSize}
}

// Page is one page of a listing
type Page struct {
	Items   []*Item
	Count   int
	Page    int
	HasNext bool
}

// PageSize returns the configured page size
func (s *Service) PageSize() int {
	return s.pageSize
}

// maxOffset bounds the row offset a page number may request
const maxOffset = math.MaxInt32

// List returns page number page (1-based). Pages whose offset would exceed
// maxOffset yield ErrInvalidPage.
func (s *Service) List(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if page-1 > maxOffset/s.pageSize {
		return nil, ErrInvalidPage
	}
	items, count, err := s.repo.List(ctx, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	if items == nil {
		items = []*Item{}
	}
	return &Page{
		Items:   items,
		Count:   count,
		Page:    page,
		HasNext: page*s.pageSize < count,
	}, nil
}

// Get retrieves an item by ID
func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a new item owned by userID
func (s *Service) Create(ctx context.Context, userID int64, name, description string) (*Item, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	it := &Item{Name: name, Description: description, CreatedBy: userID}
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return it, nil
}

// Patch holds optional item changes
type Patch struct {
	Name        *string
	Description *string
}

// Update applies p to an item. The owner never changes.
func (s *Service) Update(ctx context.Context, id int64, p Patch) (*Item, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		it.Name = name
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if err := s.repo.Update(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// Delete removes an item
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if len([]rune(name)) > MaxNameLength {
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidItem, MaxNameLength)
	}
	return nil
}
