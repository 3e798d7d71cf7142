package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbridge.dev/flowbridge/internal/core"
)

func TestIdentityForwardsUnchanged(t *testing.T) {
	msg := &core.Message{Payload: []byte("hello")}
	out, err := Identity{}.Process(msg)
	require.NoError(t, err)
	assert.Same(t, msg, out)
}

func TestBuildDefaultsToIdentity(t *testing.T) {
	p, err := Build("", nil)
	require.NoError(t, err)
	_, ok := p.(Identity)
	assert.True(t, ok)
}

func TestBuildUnknownNameFails(t *testing.T) {
	_, err := Build("does_not_exist", nil)
	assert.Error(t, err)
}

func TestDropEmptyPayload(t *testing.T) {
	p, err := Build("drop_empty_payload", nil)
	require.NoError(t, err)

	out, err := p.Process(&core.Message{Payload: []byte("x")})
	require.NoError(t, err)
	assert.NotNil(t, out)

	out, err = p.Process(&core.Message{Payload: nil})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRegisterCustomProcessor(t *testing.T) {
	Register("test_uppercase_marker", func(map[string]string) (Processor, error) {
		return Identity{}, nil
	})
	p, err := Build("test_uppercase_marker", nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}
