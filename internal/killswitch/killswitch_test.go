package killswitch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestManualToggle(t *testing.T) {
	s := New("", nil)
	assert.False(t, s.Engaged())
	s.Set(true)
	assert.True(t, s.Engaged())
	s.Set(false)
	assert.False(t, s.Engaged())
}

func TestFileTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "wind.off")
	s := New(path, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.False(t, s.Engaged())

	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.Eventually(t, s.Engaged, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return !s.Engaged() }, 2*time.Second, 10*time.Millisecond)
}

func TestFilePresentAtStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "wind.off")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	s := New(path, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.True(t, s.Engaged())
}

func TestStopIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "x"), nil)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
