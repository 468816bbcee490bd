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

// Package tokens provides token counting for context budget enforcement.
//
// Two counting modes exist because provider tokenizers and the substrate's
// budget math have different needs: tiktoken (cl100k_base) gives counts close
// to what providers bill, while the chars/4 heuristic is dependency-free and
// deterministic across platforms. The mode is configuration; provider-reported
// usage is recorded separately in audit records regardless of mode.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counting modes.
const (
	ModeTiktoken  = "tiktoken"
	ModeHeuristic = "heuristic"
)

// Counter counts tokens in text for budget enforcement.
type Counter interface {
	// Count returns the token count for the given text.
	Count(text string) int

	// CountAll sums counts across multiple text segments.
	CountAll(texts ...string) int

	// Mode reports which counting mode is active.
	Mode() string
}

// NewCounter returns a counter for the given mode. ModeTiktoken falls back
// to the heuristic when the encoding cannot initialize (e.g. no cached BPE
// data and no network); the returned counter then reports ModeHeuristic.
func NewCounter(mode string) (Counter, error) {
	switch mode {
	case ModeTiktoken, "":
		tk, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &heuristicCounter{}, nil
		}
		return &tiktokenCounter{encoder: tk}, nil
	case ModeHeuristic:
		return &heuristicCounter{}, nil
	default:
		return nil, fmt.Errorf("unknown token counting mode: %q (expected %s or %s)", mode, ModeTiktoken, ModeHeuristic)
	}
}

// tiktokenCounter counts with the cl100k_base encoding, a close
// approximation for the models the substrate targets.
type tiktokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

func (c *tiktokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

func (c *tiktokenCounter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

func (c *tiktokenCounter) Mode() string { return ModeTiktoken }

// heuristicCounter estimates one token per four characters. Cheap,
// deterministic, and within the tolerance the context budget invariant
// allows.
type heuristicCounter struct{}

func (c *heuristicCounter) Count(text string) int {
	return len(text) / 4
}

func (c *heuristicCounter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

func (c *heuristicCounter) Mode() string { return ModeHeuristic }

var (
	defaultCounter Counter
	defaultOnce    sync.Once
)

// Default returns the process-wide counter, initialized on first use with
// ModeTiktoken (heuristic fallback).
func Default() Counter {
	defaultOnce.Do(func() {
		defaultCounter, _ = NewCounter(ModeTiktoken)
	})
	return defaultCounter
}
