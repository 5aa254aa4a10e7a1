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
	"context"

	"github.com/psicosas/psicosas/internal/session"
)

type contextKey string

const (
	routeTableKey contextKey = "route_table"
	adminSiteKey  contextKey = "admin_site"
)

// Route tables.
const (
	TableControlPlane = "control_plane"
	TableTenant       = "tenant"
)

// GetUserID retrieves the authenticated user ID from context.
func GetUserID(ctx context.Context) string {
	if p, ok := session.PrincipalFromContext(ctx); ok {
		return p.UserID
	}
	return ""
}

// GetRouteTable returns the route table selected for the request.
func GetRouteTable(ctx context.Context) string {
	if val, ok := ctx.Value(routeTableKey).(string); ok {
		return val
	}
	return ""
}

// GetAdminSite returns the admin-site settings derived for the request.
func GetAdminSite(ctx context.Context) (AdminSite, bool) {
	site, ok := ctx.Value(adminSiteKey).(AdminSite)
	return site, ok
}
