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
package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/teradata-labs/agentforge/pkg/types"
)

// modelPricing is USD per million tokens.
type modelPricing struct {
	Input  float64
	Output float64
}

// priceTable maps model-name prefixes to pricing. Longest prefix wins.
// Pricing as of 2026-01.
var priceTable = map[string]modelPricing{
	"claude-opus":   {Input: 15.0, Output: 75.0},
	"claude-sonnet": {Input: 3.0, Output: 15.0},
	"claude-haiku":  {Input: 0.80, Output: 4.0},
	"simulated":     {Input: 0, Output: 0},
}

// CostUSD estimates the cost of a call from its token counts. Unknown
// models cost zero rather than guessing.
func CostUSD(model string, inputTokens, outputTokens int) float64 {
	var best string
	for prefix := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := priceTable[best]
	return float64(inputTokens)*p.Input/1_000_000 + float64(outputTokens)*p.Output/1_000_000
}

// UsageTracker accumulates token usage across calls. Safe for concurrent
// use; one tracker is shared across all clients in a process.
type UsageTracker struct {
	mu    sync.Mutex
	total types.Usage
	calls int
}

// NewUsageTracker returns an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Record adds one call's usage.
func (t *UsageTracker) Record(u types.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.Add(u)
	t.calls++
}

// Total returns the accumulated usage and call count.
func (t *UsageTracker) Total() (types.Usage, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.calls
}

// Tracked wraps a client so every successful call is recorded.
type Tracked struct {
	Client
	tracker *UsageTracker
}

// WithTracking decorates a client with usage accumulation.
func WithTracking(c Client, tracker *UsageTracker) *Tracked {
	return &Tracked{Client: c, tracker: tracker}
}

// Complete delegates and records the response usage.
func (t *Tracked) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.Client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	t.tracker.Record(resp.Usage)
	return resp, nil
}
