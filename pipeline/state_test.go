package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateInitializesExt(t *testing.T) {
	s := NewState(Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NotNil(t, s.Ext)
	assert.Len(t, s.Request.Messages, 1)
	assert.Nil(t, s.Failure)
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState(Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Metadata: map[string]any{"userId": "u1"},
	})
	s.Ext["a"] = 1

	c := s.Clone()
	c.Ext["a"] = 2
	c.Ext["b"] = 3
	c.Request.Metadata["userId"] = "u2"
	c.Request.Messages[0].Content = "changed"

	assert.Equal(t, 1, s.Ext["a"])
	_, ok := s.Ext["b"]
	assert.False(t, ok)
	assert.Equal(t, "u1", s.Request.Metadata["userId"])
	assert.Equal(t, "hi", s.Request.Messages[0].Content)
}

func TestCloneFromZeroValue(t *testing.T) {
	var s State
	c := s.Clone()
	require.NotNil(t, c.Ext)
	require.NotNil(t, c.Request.Metadata)
	out := c.WithExt("k", "v")
	v, ok := out.Value("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestWithExtDoesNotMutateReceiver(t *testing.T) {
	s := NewState(Request{})
	out := s.WithExt("intent", "greeting")
	_, ok := s.Value("intent")
	assert.False(t, ok)
	v, ok := out.Value("intent")
	require.True(t, ok)
	assert.Equal(t, "greeting", v)
}

func TestWithFailureIsTerminalCopy(t *testing.T) {
	s := NewState(Request{})
	f := &Failure{Message: "nope", StatusCode: 400}
	out := s.WithFailure(f)
	assert.Nil(t, s.Failure)
	require.NotNil(t, out.Failure)
	assert.Equal(t, 400, out.Failure.StatusCode)
}

func TestLastMessage(t *testing.T) {
	s := NewState(Request{})
	_, ok := s.LastMessage()
	assert.False(t, ok)

	s = NewState(Request{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
	}})
	m, ok := s.LastMessage()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, m.Role)
	assert.Equal(t, "second", m.Content)
}

func TestMetadataString(t *testing.T) {
	s := NewState(Request{Metadata: map[string]any{
		"userId": "u1",
		"count":  7,
		"empty":  "",
	}})

	v, ok := s.MetadataString("userId")
	require.True(t, ok)
	assert.Equal(t, "u1", v)

	_, ok = s.MetadataString("count")
	assert.False(t, ok)

	_, ok = s.MetadataString("empty")
	assert.False(t, ok)

	_, ok = s.MetadataString("missing")
	assert.False(t, ok)
}
