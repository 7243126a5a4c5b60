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

// Command migrate applies the directory migrations and then every pending
// tenant migration.
package main

import (
	"context"
	"log"

	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/schema"
	"github.com/opentrusty/tenancy/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      "text",
		ServiceName: cfg.Observability.ServiceName,
	})

	dbCfg := postgres.FromConfig(cfg.Database)
	sqlDB, err := postgres.OpenSQL(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer sqlDB.Close()

	schemas, err := schema.NewManager(sqlDB, schema.Config{AllowDrop: cfg.Tenancy.AllowSchemaDrop})
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	if err := schemas.MigratePublic(ctx); err != nil {
		log.Fatalf("Failed to migrate directory: %v", err)
	}
	log.Println("✓ directory migrations applied")

	db, err := postgres.New(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	namespaces, err := postgres.NewTenantRepository(db).Namespaces(ctx)
	if err != nil {
		log.Fatalf("Failed to list tenants: %v", err)
	}
	if err := schemas.MigrateAll(ctx, namespaces); err != nil {
		log.Fatalf("Tenant migrations failed: %v", err)
	}
	log.Printf("✓ %d tenant namespaces migrated", len(namespaces))
}
