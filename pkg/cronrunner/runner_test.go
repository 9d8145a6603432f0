package cronrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_AddValidatesSpec(t *testing.T) {
	r := New(nil, context.Background())

	_, err := r.Add("resync", "@every 1m", 0, func(context.Context) {})
	require.NoError(t, err)
	_, err = r.Add("nightly", "0 3 * * *", 0, func(context.Context) {})
	require.NoError(t, err)
	_, err = r.Add("broken", "every minute", 0, func(context.Context) {})
	assert.Error(t, err)

	assert.Equal(t, 2, r.Entries())
}

func TestRunner_StartStop(t *testing.T) {
	r := New(nil, nil)
	r.Start()
	r.Stop()
}
