package plfsio

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dlambrig/deltafs/plfsio/block"
	"github.com/dlambrig/deltafs/plfsio/format"
	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/plfsiotest"
)

func buildDir(t *testing.T, env *plfsiotest.Env, opts *DirOptions, n int) map[string]string {
	t.Helper()
	dataSink, err := logio.NewLogSink(env, "data", logio.SinkOptions{}, nil)
	require.NoError(t, err)
	indexSink, err := logio.NewLogSink(env, "index", logio.SinkOptions{}, nil)
	require.NoError(t, err)

	dl := NewDirLogger(opts, dataSink, indexSink, nil)
	want := make(map[string]string, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k-%05d", i)
		value := fmt.Sprintf("v-%05d", i)
		want[key] = value
		require.True(t, dl.Add([]byte(key), []byte(value)).Ok())
	}
	require.True(t, dl.Flush(FlushOptions{EpochFlush: true, Finalize: true}).Ok())
	require.True(t, dl.Wait().Ok())
	require.NoError(t, dataSink.Unref())
	require.NoError(t, indexSink.Unref())
	return want
}

func openDir(t *testing.T, env *plfsiotest.Env, opts *DirOptions) *Dir {
	t.Helper()
	dataSource, err := logio.OpenLogSource(env, "data", false)
	require.NoError(t, err)
	indexSource, err := logio.OpenLogSource(env, "index", true)
	require.NoError(t, err)
	dir, st := Open(opts, dataSource, indexSource)
	require.True(t, st.Ok(), "open status: %v", st)
	return dir
}

func TestDirReaderServesEveryWrittenKey(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16, BfBitsPerKey: 10}
	want := buildDir(t, env, opts, 300)

	dir := openDir(t, env, opts)
	defer dir.Close()

	for key, value := range want {
		got, st := dir.Read([]byte(key))
		require.True(t, st.Ok())
		require.Equal(t, value, string(got))
	}
}

func TestDirReaderMissingKeyReturnsEmpty(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16, BfBitsPerKey: 10}
	buildDir(t, env, opts, 50)

	dir := openDir(t, env, opts)
	defer dir.Close()

	got, st := dir.Read([]byte("does-not-exist"))
	require.True(t, st.Ok())
	require.Empty(t, got)
}

func TestDirReaderParallelMatchesSerial(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16, BfBitsPerKey: 10}
	want := buildDir(t, env, opts, 100)

	serialOpts := *opts
	serialOpts.ParallelReads = false
	serialDir := openDir(t, env, &serialOpts)
	defer serialDir.Close()

	parallelOpts := *opts
	parallelOpts.ParallelReads = true
	parallelOpts.ReaderPool = NewPoolScheduler(context.Background(), 4)
	parallelDir := openDir(t, env, &parallelOpts)
	defer parallelDir.Close()

	for key := range want {
		serialGot, st := serialDir.Read([]byte(key))
		require.True(t, st.Ok())
		parallelGot, st := parallelDir.Read([]byte(key))
		require.True(t, st.Ok())
		require.Equal(t, serialGot, parallelGot)
	}
}

func TestOpenDetectsTruncatedFooter(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16, BfBitsPerKey: 10}
	buildDir(t, env, opts, 20)

	env.Truncate("index", 4)

	dataSource, err := logio.OpenLogSource(env, "data", false)
	require.NoError(t, err)
	indexSource, err := logio.OpenLogSource(env, "index", true)
	require.NoError(t, err)

	_, st := Open(opts, dataSource, indexSource)
	require.Equal(t, KindCorruption, st.Kind())
}

func TestDirReaderConcatenatesAcrossEpochsWhenKeysNotUnique(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16}

	dataSink, err := logio.NewLogSink(env, "data", logio.SinkOptions{}, nil)
	require.NoError(t, err)
	indexSink, err := logio.NewLogSink(env, "index", logio.SinkOptions{}, nil)
	require.NoError(t, err)

	dl := NewDirLogger(opts, dataSink, indexSink, nil)
	require.True(t, dl.Add([]byte("k"), []byte("X")).Ok())
	require.True(t, dl.Flush(FlushOptions{EpochFlush: true}).Ok())
	require.True(t, dl.Add([]byte("k"), []byte("Y")).Ok())
	require.True(t, dl.Flush(FlushOptions{EpochFlush: true, Finalize: true}).Ok())
	require.True(t, dl.Wait().Ok())
	require.NoError(t, dataSink.Unref())
	require.NoError(t, indexSink.Unref())

	serialOpts := *opts
	serialDir := openDir(t, env, &serialOpts)
	defer serialDir.Close()
	got, st := serialDir.Read([]byte("k"))
	require.True(t, st.Ok())
	require.Equal(t, "XY", string(got))

	parallelOpts := *opts
	parallelOpts.ParallelReads = true
	parallelOpts.ReaderPool = NewPoolScheduler(context.Background(), 4)
	parallelDir := openDir(t, env, &parallelOpts)
	defer parallelDir.Close()
	got, st = parallelDir.Read([]byte("k"))
	require.True(t, st.Ok())
	require.Equal(t, "XY", string(got))
}

func TestDirReaderDegradesOnCorruptFilter(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16, BfBitsPerKey: 10}
	want := buildDir(t, env, opts, 50)

	// Locate the table's filter block through the footer and root meta
	// block and flip its first byte: the filter's checksum no longer
	// verifies, so every read must degrade to "may match" per the
	// filter-error contract rather than erroring or dropping a value.
	indexSize, err := env.FileSize("index")
	require.NoError(t, err)
	buf, err := readAll(env, "index", indexSize)
	require.NoError(t, err)
	footer, err := format.DecodeFooter(buf[len(buf)-format.FooterEncodeLen:])
	require.NoError(t, err)
	metaHandle := footer.EpochIndex
	metaBody, err := block.Decode(buf[metaHandle.Offset:metaHandle.Offset+metaHandle.Size+format.BlockTrailerSize], true)
	require.NoError(t, err)
	metaReader, err := block.NewReader(metaBody)
	require.NoError(t, err)
	it := metaReader.NewIterator()
	it.SeekToFirst()
	require.True(t, it.Valid())
	handle, _, err := format.DecodeTableHandle(it.Value())
	require.NoError(t, err)
	require.Greater(t, handle.FilterSize, uint64(0))
	env.Corrupt("index", int64(handle.FilterOffset))

	dir := openDir(t, env, opts)
	defer dir.Close()

	for key, value := range want {
		got, st := dir.Read([]byte(key))
		require.True(t, st.Ok(), "read status: %v", st)
		require.Equal(t, value, string(got))
	}
}

func TestDirReaderDataBlockCorruptionReturnsCorruption(t *testing.T) {
	env := plfsiotest.NewEnv()
	opts := &DirOptions{BlockSize: 512, MemtableBuffer: 1 << 16, BfBitsPerKey: 10}
	want := buildDir(t, env, opts, 10)

	// Flip the first byte of the data log: with only 10 small keys this
	// lands inside the one data block's content, which Decode's checksum
	// must catch rather than silently returning garbage.
	env.Corrupt("data", 0)

	dir := openDir(t, env, opts)
	defer dir.Close()

	sawCorruption := false
	for key := range want {
		got, st := dir.Read([]byte(key))
		if !st.Ok() {
			require.Equal(t, KindCorruption, st.Kind())
			sawCorruption = true
			continue
		}
		require.Empty(t, got)
	}
	require.True(t, sawCorruption, "expected at least one lookup to hit the corrupted data block")
}
