package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWorker struct {
	Base
}

func (w *nopWorker) RunMain(context.Context) error { return nil }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("W", func() Worker { return &nopWorker{} }))
	assert.True(t, r.Has("W"))
	assert.False(t, r.Has("X"))
	assert.Equal(t, []string{"W"}, r.ClassNames())
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("W", func() Worker { return &nopWorker{} }))
	assert.Error(t, r.Register("W", func() Worker { return &nopWorker{} }))
}

func TestRegistryInvalidRegistration(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", func() Worker { return &nopWorker{} }))
	assert.Error(t, r.Register("W", nil))
}

func TestRegistryNew(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("W", func() Worker { return &nopWorker{} }))

	w, err := r.New("W")
	require.NoError(t, err)
	assert.NotNil(t, w)

	// Each call constructs a fresh instance
	w2, err := r.New("W")
	require.NoError(t, err)
	assert.NotSame(t, w, w2)

	_, err = r.New("Unknown")
	assert.Error(t, err)
}
