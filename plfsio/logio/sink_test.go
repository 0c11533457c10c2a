package logio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/plfsiotest"
)

func TestLogSinkWriteAdvancesOffset(t *testing.T) {
	env := plfsiotest.NewEnv()
	s, err := logio.NewLogSink(env, "data", logio.SinkOptions{}, nil)
	require.NoError(t, err)

	require.Equal(t, int64(0), s.Ltell())
	require.NoError(t, s.Lwrite([]byte("hello")))
	require.Equal(t, int64(5), s.Ltell())
	require.NoError(t, s.Lwrite([]byte("!!")))
	require.Equal(t, int64(7), s.Ltell())
	require.NoError(t, s.Unref())
}

func TestLogSinkBuffersUntilMinSize(t *testing.T) {
	env := plfsiotest.NewEnv()
	s, err := logio.NewLogSink(env, "data", logio.SinkOptions{MinBufferSize: 16}, nil)
	require.NoError(t, err)
	defer s.Unref()

	require.NoError(t, s.Lwrite([]byte("abc")))
	require.Equal(t, int64(3), s.Ltell())
	size, err := env.FileSize("data")
	require.NoError(t, err)
	require.Equal(t, int64(0), size, "buffered write should not hit the file yet")

	require.NoError(t, s.Lwrite([]byte("0123456789012345")))
	size, err = env.FileSize("data")
	require.NoError(t, err)
	require.Greater(t, size, int64(0), "crossing MinBufferSize should flush")
}

func TestLogSinkRefcountClosesAtZero(t *testing.T) {
	env := plfsiotest.NewEnv()
	s, err := logio.NewLogSink(env, "data", logio.SinkOptions{}, nil)
	require.NoError(t, err)
	s.Ref()
	require.NoError(t, s.Unref())
	require.NoError(t, s.Lwrite([]byte("still open")))
	require.NoError(t, s.Unref())
	require.Error(t, s.Lwrite([]byte("closed now")))
}

func TestLogSinkRotateRequiresExternalControl(t *testing.T) {
	env := plfsiotest.NewEnv()
	s, err := logio.NewLogSink(env, "data", logio.SinkOptions{}, nil)
	require.NoError(t, err)
	defer s.Unref()
	require.Error(t, s.Lrotate(1, false))
}

func TestLogSinkRotateOpensNextPiece(t *testing.T) {
	env := plfsiotest.NewEnv()
	s, err := logio.NewLogSink(env, "data", logio.SinkOptions{Rotation: logio.RotationExternalControl}, nil)
	require.NoError(t, err)
	defer s.Unref()

	require.NoError(t, s.Lwrite([]byte("piece0")))
	require.NoError(t, s.Lrotate(1, true))
	require.NoError(t, s.Lwrite([]byte("piece1")))

	size, err := env.FileSize("data.1")
	require.NoError(t, err)
	require.Equal(t, int64(len("piece1")), size)
	require.Equal(t, int64(len("piece0")+len("piece1")), s.Ltell())
}
