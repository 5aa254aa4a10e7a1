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

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/psicosas/psicosas/internal/identity"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/session"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" example:"admin@clinic-a.example"`
	Password string `json:"password" example:"secret123"`
}

// LoginResponse carries the session token
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserView  `json:"user"`
}

// UserView is the public representation of an account
type UserView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserType  string `json:"user_type,omitempty"`
	Role      string `json:"role"`
	Schema    string `json:"schema_name"`
}

func (h *Handler) accounts(kind identity.Kind) *identity.Service {
	if kind == identity.KindPlatform {
		return h.platformAccounts
	}
	return h.clinicAccounts
}

func userView(a *identity.Account, kind identity.Kind, schema string) UserView {
	return UserView{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		UserType:  a.UserType,
		Role:      a.Role(kind),
		Schema:    schema,
	}
}

// Login authenticates against the accounts of the bound schema
// @Summary Login
// @Description Authenticate and receive a token bound to the hostname's tenant
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(kind identity.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			respondError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		ctx := r.Context()
		schema := schemactx.Schema(ctx)
		a, err := h.accounts(kind).Authenticate(ctx, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidCredentials) {
				respondError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			respondAppError(w, r, err, false)
			return
		}

		token, expiresAt, err := h.sessions.Issue(session.Principal{
			UserID: a.ID,
			Email:  a.Email,
			Role:   a.Role(kind),
			Schema: schema,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to issue token", logger.Schema(schema), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to create session")
			return
		}

		respondJSON(w, http.StatusOK, LoginResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresAt:   expiresAt,
			User:        userView(a, kind, schema),
		})
	}
}

// Me returns the authenticated account
// @Summary Current user
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserView
// @Failure 401 {object} map[string]string
// @Router /auth/me [get]
func (h *Handler) Me(kind identity.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := session.PrincipalFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		a, err := h.accounts(kind).Get(r.Context(), p.UserID)
		if err != nil {
			respondAppError(w, r, err, false)
			return
		}
		respondJSON(w, http.StatusOK, userView(a, kind, p.Schema))
	}
}
