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

package tenant

import "time"

// PublicSchema is the schema of the control-plane tenant.
const PublicSchema = "public"

// Tenant is a clinic. Each tenant owns one PostgreSQL schema.
type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SchemaName string    `json:"schema_name"`
	CreatedAt  time.Time `json:"created_on"`
	Domains    []Domain  `json:"domains,omitempty"`
}

// Domain binds a hostname to a tenant.
type Domain struct {
	Domain    string    `json:"domain"`
	TenantID  string    `json:"tenant_id"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// PrimaryDomain returns the tenant's primary hostname, or "" when the
// domains were not loaded.
func (t *Tenant) PrimaryDomain() string {
	for _, d := range t.Domains {
		if d.IsPrimary {
			return d.Domain
		}
	}
	return ""
}

// DomainNames returns the hostnames bound to the tenant.
func (t *Tenant) DomainNames() []string {
	names := make([]string, 0, len(t.Domains))
	for _, d := range t.Domains {
		names = append(names, d.Domain)
	}
	return names
}
