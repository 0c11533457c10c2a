// Command plfsdir-inspect writes a small batch of records into a fresh
// indexed directory, finalizes it, and reads a few keys back out,
// printing what it did. It exists to exercise the real write/compaction
// and read pipeline end to end, replacing the teacher's mutable-Engine
// demo (db.go/main.go) whose Set/Get/Delete semantics don't fit a store
// that is immutable once a key is committed.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dlambrig/deltafs/plfsio"
	"github.com/dlambrig/deltafs/plfsio/logio"
	"github.com/dlambrig/deltafs/plfsio/metrics"
)

func main() {
	dir := flag.String("dir", "", "directory to write the data/index logs into (a temp dir if empty)")
	numRecords := flag.Int("n", 1000, "number of records to write")
	seed := flag.Int64("seed", 1, "random seed for generated keys/values")
	flag.Parse()

	runID := uuid.New().String()
	log := logrus.StandardLogger().WithField("run_id", runID)

	workdir := *dir
	if workdir == "" {
		tmp, err := os.MkdirTemp("", "plfsdir-inspect-"+runID+"-")
		if err != nil {
			log.WithError(err).Fatal("cannot create temp dir")
		}
		workdir = tmp
	}
	dataPath := filepath.Join(workdir, "data.log")
	indexPath := filepath.Join(workdir, "index.log")

	reg := metrics.NewRegistry(prometheus.NewRegistry(), "plfsdir_inspect")
	opts := &plfsio.DirOptions{
		BlockSize:       4096,
		BlockPadding:    true,
		MemtableBuffer:  1 << 20,
		BfBitsPerKey:    10,
		IndexBuffer:     4096,
		TailPadding:     true,
		VerifyChecksums: true,
		Logger:          log,
		Metrics:         reg,
		Env:             logio.DefaultEnv,
	}

	if err := write(opts, dataPath, indexPath, *numRecords, *seed); err != nil {
		log.WithError(err).Fatal("write failed")
	}

	keys, err := readBack(opts, dataPath, indexPath, *numRecords, *seed)
	if err != nil {
		log.WithError(err).Fatal("read failed")
	}
	for _, k := range keys {
		fmt.Println(k)
	}
}

func write(opts *plfsio.DirOptions, dataPath, indexPath string, n int, seed int64) error {
	dataSink, err := logio.NewLogSink(opts.Env, dataPath, logio.SinkOptions{}, nil)
	if err != nil {
		return err
	}
	indexSink, err := logio.NewLogSink(opts.Env, indexPath, logio.SinkOptions{}, nil)
	if err != nil {
		return err
	}
	dl := plfsio.NewDirLogger(opts, dataSink, indexSink, opts.Metrics)

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%08d", i))
		value := make([]byte, 32)
		rng.Read(value)
		if s := dl.Add(key, value); !s.Ok() {
			return s
		}
	}
	if s := dl.Flush(plfsio.FlushOptions{EpochFlush: true, Finalize: true}); !s.Ok() {
		return s
	}
	if s := dl.Wait(); !s.Ok() {
		return s
	}
	if err := dataSink.Unref(); err != nil {
		return err
	}
	return indexSink.Unref()
}

func readBack(opts *plfsio.DirOptions, dataPath, indexPath string, n int, seed int64) ([]string, error) {
	dataSource, err := logio.OpenLogSource(opts.Env, dataPath, false)
	if err != nil {
		return nil, err
	}
	indexSource, err := logio.OpenLogSource(opts.Env, indexPath, true)
	if err != nil {
		return nil, err
	}
	dir, status := plfsio.Open(opts, dataSource, indexSource)
	if !status.Ok() {
		return nil, status
	}
	defer dir.Close()

	rng := rand.New(rand.NewSource(seed))
	samples := 5
	if samples > n {
		samples = n
	}
	var lines []string
	for i := 0; i < samples; i++ {
		idx := rng.Intn(n)
		key := []byte(fmt.Sprintf("key-%08d", idx))
		value, status := dir.Read(key)
		if !status.Ok() {
			return nil, status
		}
		lines = append(lines, fmt.Sprintf("%s -> %d bytes", key, len(value)))
	}
	return lines, nil
}
