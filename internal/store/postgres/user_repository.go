// Copyright 2026 The Psico SAS Authors
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

	"github.com/jackc/pgx/v5"
	"github.com/psicosas/psicosas/internal/identity"
)

// ClinicUserRepository implements identity.Repository on the users table of
// the schema bound to the request context.
type ClinicUserRepository struct {
	db *DB
}

// NewClinicUserRepository creates a new clinic user repository
func NewClinicUserRepository(db *DB) *ClinicUserRepository {
	return &ClinicUserRepository{db: db}
}

// Create inserts a clinic account
func (r *ClinicUserRepository) Create(ctx context.Context, a *identity.Account) error {
	return r.db.InSchema(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (
				id, email, password_hash, first_name, last_name,
				user_type, is_superuser, is_active, date_joined
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			a.ID, a.Email, a.PasswordHash, a.FirstName, a.LastName,
			a.UserType, a.IsSuperuser, a.IsActive, a.DateJoined,
		)
		if err != nil {
			if isUniqueViolation(err, "users_email_key") {
				return identity.ErrUserAlreadyExists
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a clinic account by ID
func (r *ClinicUserRepository) GetByID(ctx context.Context, id string) (*identity.Account, error) {
	return r.get(ctx, "id::text = $1", id)
}

// GetByEmail retrieves a clinic account by email
func (r *ClinicUserRepository) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return r.get(ctx, "lower(email) = lower($1)", email)
}

func (r *ClinicUserRepository) get(ctx context.Context, where string, arg any) (*identity.Account, error) {
	var a identity.Account
	err := r.db.InSchema(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id::text, email, password_hash, first_name, last_name,
				user_type, is_superuser, is_active, date_joined
			FROM users
			WHERE `+where, arg).Scan(
			&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName,
			&a.UserType, &a.IsSuperuser, &a.IsActive, &a.DateJoined,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &a, nil
}

// PlatformUserRepository implements identity.Repository on
// public.public_users.
type PlatformUserRepository struct {
	db *DB
}

// NewPlatformUserRepository creates a new platform user repository
func NewPlatformUserRepository(db *DB) *PlatformUserRepository {
	return &PlatformUserRepository{db: db}
}

// Create inserts a platform account
func (r *PlatformUserRepository) Create(ctx context.Context, a *identity.Account) error {
	return r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO public_users (
				id, email, password_hash, first_name, last_name,
				is_staff, is_superuser, is_active, date_joined
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			a.ID, a.Email, a.PasswordHash, a.FirstName, a.LastName,
			a.IsStaff, a.IsSuperuser, a.IsActive, a.DateJoined,
		)
		if err != nil {
			if isUniqueViolation(err, "public_users_email_key") {
				return identity.ErrUserAlreadyExists
			}
			return fmt.Errorf("failed to insert platform user: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a platform account by ID
func (r *PlatformUserRepository) GetByID(ctx context.Context, id string) (*identity.Account, error) {
	return r.get(ctx, "id::text = $1", id)
}

// GetByEmail retrieves a platform account by email
func (r *PlatformUserRepository) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return r.get(ctx, "lower(email) = lower($1)", email)
}

func (r *PlatformUserRepository) get(ctx context.Context, where string, arg any) (*identity.Account, error) {
	var a identity.Account
	err := r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id::text, email, password_hash, first_name, last_name,
				is_staff, is_superuser, is_active, date_joined
			FROM public_users
			WHERE `+where, arg).Scan(
			&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName,
			&a.IsStaff, &a.IsSuperuser, &a.IsActive, &a.DateJoined,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get platform user: %w", err)
	}
	return &a, nil
}
