package plfsio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlambrig/deltafs/plfsio/block"
	"github.com/dlambrig/deltafs/plfsio/format"
	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/plfsiotest"
)

func newSinks(t *testing.T, env *plfsiotest.Env) (*logio.LogSink, *logio.LogSink) {
	t.Helper()
	dataSink, err := logio.NewLogSink(env, "data", logio.SinkOptions{}, nil)
	require.NoError(t, err)
	indexSink, err := logio.NewLogSink(env, "index", logio.SinkOptions{}, nil)
	require.NoError(t, err)
	return dataSink, indexSink
}

func TestTableLoggerSingleTableRoundTrip(t *testing.T) {
	env := plfsiotest.NewEnv()
	dataSink, indexSink := newSinks(t, env)
	opts := (&DirOptions{BlockSize: 256, BfBitsPerKey: 10}).norm()
	tl := NewTableLogger(opts, dataSink, indexSink, nil)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := []byte(fmt.Sprintf("value-%04d", i))
		require.True(t, tl.Add(key, value).Ok())
	}
	require.True(t, tl.EndTable(true).Ok())
	require.True(t, tl.EndEpoch().Ok())
	require.True(t, tl.Finish().Ok())
	require.NoError(t, dataSink.Unref())
	require.NoError(t, indexSink.Unref())

	// The index/meta/footer handles must describe byte ranges that
	// actually decode, proving the CurrentSizeEstimate-before-Finalize
	// ordering produced correct handle sizes.
	indexSize, err := env.FileSize("index")
	require.NoError(t, err)
	buf, err := readAll(env, "index", indexSize)
	require.NoError(t, err)

	footerStart := len(buf) - format.FooterEncodeLen
	footer, err := format.DecodeFooter(buf[footerStart:])
	require.NoError(t, err)
	require.Equal(t, uint32(1), footer.NumEpochs)

	metaHandle := footer.EpochIndex
	metaRaw := buf[metaHandle.Offset : metaHandle.Offset+metaHandle.Size+format.BlockTrailerSize]
	metaBody, err := block.Decode(metaRaw, true)
	require.NoError(t, err)
	metaReader, err := block.NewReader(metaBody)
	require.NoError(t, err)

	it := metaReader.NewIterator()
	it.SeekToFirst()
	require.True(t, it.Valid())
	epoch, table := format.DecodeEpochKey(it.Key())
	require.Equal(t, uint32(0), epoch)
	require.Equal(t, uint32(0), table)

	handle, _, err := format.DecodeTableHandle(it.Value())
	require.NoError(t, err)
	require.Equal(t, "key-0000", string(handle.SmallestKey))

	indexRaw := buf[handle.Index.Offset : handle.Index.Offset+handle.Index.Size+format.BlockTrailerSize]
	indexBody, err := block.Decode(indexRaw, true)
	require.NoError(t, err)
	indexReader, err := block.NewReader(indexBody)
	require.NoError(t, err)
	idxIt := indexReader.NewIterator()
	idxIt.SeekToFirst()
	require.True(t, idxIt.Valid())
}

func TestTableLoggerRejectsOutOfOrderKeys(t *testing.T) {
	env := plfsiotest.NewEnv()
	dataSink, indexSink := newSinks(t, env)
	opts := (&DirOptions{}).norm()
	tl := NewTableLogger(opts, dataSink, indexSink, nil)

	require.True(t, tl.Add([]byte("b"), []byte("1")).Ok())
	st := tl.Add([]byte("a"), []byte("2"))
	require.False(t, st.Ok())
	require.Equal(t, KindAssertionFailed, st.Kind())
}

func TestTableLoggerDoubleFinishFails(t *testing.T) {
	env := plfsiotest.NewEnv()
	dataSink, indexSink := newSinks(t, env)
	opts := (&DirOptions{}).norm()
	tl := NewTableLogger(opts, dataSink, indexSink, nil)

	require.True(t, tl.Add([]byte("a"), []byte("1")).Ok())
	require.True(t, tl.Finish().Ok())
	st := tl.Finish()
	require.False(t, st.Ok())
	require.Equal(t, KindAssertionFailed, st.Kind())
}

func readAll(env *plfsiotest.Env, name string, size int64) ([]byte, error) {
	src, err := logio.OpenLogSource(env, name, true)
	if err != nil {
		return nil, err
	}
	defer src.Unref()
	return src.Read(0, int(size), nil)
}
