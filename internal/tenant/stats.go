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

// Counts holds the row counters of one clinic schema.
type Counts struct {
	UsersByType          map[string]int `json:"users_by_type"`
	AppointmentsByStatus map[string]int `json:"appointments_by_status"`
	ProfessionalProfiles int            `json:"professional_profiles"`
	VerifiedProfiles     int            `json:"verified_profiles"`
}

// TotalUsers sums users of every type.
func (c *Counts) TotalUsers() int {
	n := 0
	for _, v := range c.UsersByType {
		n += v
	}
	return n
}

// ClinicSummary is one row of the global statistics.
type ClinicSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SchemaName    string    `json:"schema_name"`
	CreatedAt     time.Time `json:"created_on"`
	TotalUsers    int       `json:"total_users"`
	Patients      int       `json:"patients"`
	Professionals int       `json:"professionals"`
	Admins        int       `json:"admins"`
	Domains       []string  `json:"domains"`
	PrimaryDomain string    `json:"primary_domain,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// GlobalStats summarizes every clinic. The control-plane tenant is excluded
// from clinic counts but its domains are included in TotalDomains.
type GlobalStats struct {
	TotalClinics     int             `json:"total_clinics"`
	TotalDomains     int             `json:"total_domains"`
	TotalUsersGlobal int             `json:"total_users_global"`
	Clinics          []ClinicSummary `json:"clinics"`
	GeneratedAt      time.Time       `json:"last_updated"`
}

// UserStats counts clinic accounts by type.
type UserStats struct {
	Total         int `json:"total"`
	Patients      int `json:"patients"`
	Professionals int `json:"professionals"`
	Admins        int `json:"admins"`
}

// AppointmentStats counts appointments by status.
type AppointmentStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
}

// ProfessionalStats counts professional profiles.
type ProfessionalStats struct {
	TotalProfiles int `json:"total_profiles"`
	Verified      int `json:"verified"`
}

// ClinicStats is the detailed statistics view of one clinic.
type ClinicStats struct {
	Clinic        *Tenant           `json:"clinic"`
	Users         UserStats         `json:"users"`
	Appointments  AppointmentStats  `json:"appointments"`
	Professionals ProfessionalStats `json:"professionals"`
}

func userStats(c *Counts) UserStats {
	return UserStats{
		Total:         c.TotalUsers(),
		Patients:      c.UsersByType["patient"],
		Professionals: c.UsersByType["professional"],
		Admins:        c.UsersByType["admin"],
	}
}

func appointmentStats(c *Counts) AppointmentStats {
	s := AppointmentStats{
		Pending:   c.AppointmentsByStatus["pending"],
		Confirmed: c.AppointmentsByStatus["confirmed"],
	}
	for _, v := range c.AppointmentsByStatus {
		s.Total += v
	}
	return s
}
