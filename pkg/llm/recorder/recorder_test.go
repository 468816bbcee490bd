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
package recorder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/llm/simulated"
	"github.com/teradata-labs/agentforge/pkg/types"
)

const sourceScript = `steps:
  - content: first answer
  - content: second answer
    tool_calls:
      - name: complete
        input:
          artifact: out.md
`

func req(content string) *llm.Request {
	return &llm.Request{
		System:   "sys",
		Messages: []types.Message{{Role: "user", Content: content}},
	}
}

func TestRecordThenPlayback(t *testing.T) {
	inner, err := simulated.Parse([]byte(sourceScript))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "rec", "session.yaml")
	rec := NewRecorder(inner, path)

	first, err := rec.Complete(context.Background(), req("one"))
	require.NoError(t, err)
	second, err := rec.Complete(context.Background(), req("two"))
	require.NoError(t, err)

	pb, err := NewPlayback(path)
	require.NoError(t, err)
	assert.Equal(t, "playback", pb.Name())
	assert.Equal(t, inner.Model(), pb.Model())

	r1, err := pb.Complete(context.Background(), req("anything"))
	require.NoError(t, err)
	assert.Equal(t, first.Content, r1.Content)

	r2, err := pb.Complete(context.Background(), req("anything else"))
	require.NoError(t, err)
	assert.Equal(t, second.Content, r2.Content)
	require.Len(t, r2.ToolCalls, 1)
	assert.Equal(t, "complete", r2.ToolCalls[0].Name)

	_, err = pb.Complete(context.Background(), req("one too many"))
	assert.ErrorIs(t, err, ErrRecordingExhausted)
}

func TestPlayback_MissingFile(t *testing.T) {
	_, err := NewPlayback(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRecorder_DelegatesIdentity(t *testing.T) {
	inner, err := simulated.Parse([]byte(sourceScript))
	require.NoError(t, err)
	rec := NewRecorder(inner, filepath.Join(t.TempDir(), "r.yaml"))
	assert.Equal(t, "simulated", rec.Name())
	assert.Equal(t, "simulated", rec.Model())
}
