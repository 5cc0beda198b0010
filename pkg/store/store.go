// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists skill descriptors so agent-owned and extension
// skills survive restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/skills"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// SkillStore is a skills.Store that owns resources.
type SkillStore interface {
	skills.Store
	Close() error
}

// Open returns the store for driver. An empty driver selects memory.
func Open(ctx context.Context, driver, dsn string) (SkillStore, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New(errors.CodeInvalidInput, "sqlite store needs a dsn", nil)
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, storeError("open", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, storeError("ping", err)
		}
		s, err := NewSQLite(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.ownsDB = true
		return s, nil
	default:
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown store driver %q", driver), nil)
	}
}

func storeError(op string, err error) error {
	return errors.New(errors.CodeStoreError, "skill store "+op, err).WithContext("operation", op)
}
