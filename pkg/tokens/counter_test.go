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
package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter_Heuristic(t *testing.T) {
	c, err := NewCounter(ModeHeuristic)
	require.NoError(t, err)

	assert.Equal(t, ModeHeuristic, c.Mode())
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("four"))
	assert.Equal(t, 25, c.Count(strings.Repeat("a", 100)))
}

func TestNewCounter_UnknownMode(t *testing.T) {
	_, err := NewCounter("exact")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token counting mode")
}

func TestCounter_CountAll(t *testing.T) {
	c, err := NewCounter(ModeHeuristic)
	require.NoError(t, err)

	total := c.CountAll("aaaa", "bbbb", "cccc")
	assert.Equal(t, 3, total)
}

func TestNewCounter_TiktokenFallsBackCleanly(t *testing.T) {
	// Tiktoken may or may not have its BPE data available in the test
	// environment. Either way the constructor must return a usable counter.
	c, err := NewCounter(ModeTiktoken)
	require.NoError(t, err)
	require.NotNil(t, c)

	n := c.Count("hello world, this is a token counting test")
	assert.Greater(t, n, 0)
}

func TestDefault_Singleton(t *testing.T) {
	first := Default()
	second := Default()
	assert.Same(t, first, second)
}
