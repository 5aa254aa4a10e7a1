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

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/tenant"
)

const keyPrefix = "psicosas:domain:"

// Options configures the Redis client.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// DomainCache implements tenant.DomainCache on Redis. Cache failures are
// logged and treated as misses so resolution falls back to the database.
type DomainCache struct {
	rdb goredis.Cmdable
}

// NewDomainCache creates a domain cache on rdb.
func NewDomainCache(rdb goredis.Cmdable) *DomainCache {
	return &DomainCache{rdb: rdb}
}

// Get returns the cached tenant for host.
func (c *DomainCache) Get(ctx context.Context, host string) (*tenant.Tenant, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(host)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "domain cache read failed", logger.Host(host), logger.Error(err))
		}
		return nil, false
	}
	t, err := decodeTenant(raw)
	if err != nil {
		slog.WarnContext(ctx, "domain cache entry corrupt", logger.Host(host), logger.Error(err))
		return nil, false
	}
	return t, true
}

// Set stores t for host.
func (c *DomainCache) Set(ctx context.Context, host string, t *tenant.Tenant, ttl time.Duration) {
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(host), raw, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "domain cache write failed", logger.Host(host), logger.Error(err))
	}
}

// Invalidate drops the entries of hosts.
func (c *DomainCache) Invalidate(ctx context.Context, hosts ...string) {
	if len(hosts) == 0 {
		return
	}
	keys := make([]string, len(hosts))
	for i, h := range hosts {
		keys[i] = cacheKey(h)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.WarnContext(ctx, "domain cache invalidation failed", logger.Error(err))
	}
}

func cacheKey(host string) string {
	return keyPrefix + tenant.NormalizeHost(host)
}

func decodeTenant(raw []byte) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	if t.ID == "" || t.SchemaName == "" {
		return nil, errors.New("incomplete tenant entry")
	}
	return &t, nil
}
