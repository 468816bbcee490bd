// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package conformance

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/pkg/types"
)

const (
	hotCacheTTL     = 30 * time.Minute
	hotCacheCleanup = 10 * time.Minute
	cacheFileName   = "conformance_cache.yaml"
)

// cachedVerdict is one persisted (file_hash, check_id) verdict.
type cachedVerdict struct {
	Passed     bool              `yaml:"passed"`
	Violations []types.Violation `yaml:"violations,omitempty"`
	CheckedAt  time.Time         `yaml:"checked_at"`
}

// verdictCache is the two-tier verdict cache shared across tasks: a
// process-local hot tier over an on-disk YAML map rewritten atomically.
// Keys are "(file_hash)|(check_id)" so unchanged files are never re-checked.
type verdictCache struct {
	hot  *gocache.Cache
	path string

	mu   sync.Mutex
	disk map[string]cachedVerdict
}

func newVerdictCache(dir string) (*verdictCache, error) {
	c := &verdictCache{
		hot:  gocache.New(hotCacheTTL, hotCacheCleanup),
		disk: make(map[string]cachedVerdict),
	}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c.path = filepath.Join(dir, cacheFileName)

	data, err := os.ReadFile(c.path)
	if err == nil {
		// A corrupt cache file is not fatal; verdicts are recomputed.
		_ = yaml.Unmarshal(data, &c.disk)
		if c.disk == nil {
			c.disk = make(map[string]cachedVerdict)
		}
	}
	return c, nil
}

func cacheKey(fileHash, checkID string) string {
	return fileHash + "|" + checkID
}

// get returns the cached verdict for (file_hash, check_id), hot tier first.
func (c *verdictCache) get(fileHash, checkID string) (cachedVerdict, bool) {
	key := cacheKey(fileHash, checkID)
	if v, ok := c.hot.Get(key); ok {
		return v.(cachedVerdict), true
	}
	c.mu.Lock()
	v, ok := c.disk[key]
	c.mu.Unlock()
	if ok {
		c.hot.Set(key, v, gocache.DefaultExpiration)
	}
	return v, ok
}

// put stores a verdict in both tiers and rewrites the disk file atomically.
func (c *verdictCache) put(fileHash, checkID string, v cachedVerdict) {
	key := cacheKey(fileHash, checkID)
	c.hot.Set(key, v, gocache.DefaultExpiration)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disk[key] = v
	if c.path == "" {
		return
	}

	data, err := yaml.Marshal(c.disk)
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+cacheFileName+".tmp-")
	if err != nil {
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return
	}
	_ = os.Rename(tmpName, c.path)
}
