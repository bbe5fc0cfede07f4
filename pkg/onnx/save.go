package onnx

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

const (
	// DefaultSizeThreshold is the smallest raw payload moved to external storage.
	DefaultSizeThreshold = 1024

	maxProtoSize  = 1<<31 - 1
	externalAlign = 64
)

// SaveOptions controls Save.
type SaveOptions struct {
	// ExternalData writes large raw initializers to a sidecar file next to the model.
	ExternalData bool
	// Location is the sidecar file name relative to the model directory.
	// Defaults to "<model file name>.data".
	Location string
	// SizeThreshold defaults to DefaultSizeThreshold.
	SizeThreshold int
}

// Save encodes m and writes it to path. Files are written to a temporary name and
// renamed into place, so a failed save never leaves a truncated model behind.
// m is not modified.
func Save(path string, m *Model, opts SaveOptions) error {
	if m == nil || m.Graph == nil {
		return ErrNoGraph
	}

	out := m
	if opts.ExternalData {
		loc := opts.Location
		if loc == "" {
			loc = filepath.Base(path) + ".data"
		}
		threshold := opts.SizeThreshold
		if threshold <= 0 {
			threshold = DefaultSizeThreshold
		}
		var err error
		if out, err = externalize(m, filepath.Dir(path), loc, threshold); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
	}

	data, err := Marshal(out)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if len(data) > maxProtoSize {
		return fmt.Errorf("save %s: %w", path, ErrModelTooLarge)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// externalize returns a shallow copy of m whose large raw initializers point into
// the sidecar file loc, which is written as a side effect.
func externalize(m *Model, dir, loc string, threshold int) (*Model, error) {
	dataPath, err := externalPath(dir, loc)
	if err != nil {
		return nil, err
	}

	var moved []*Tensor
	inits := make([]*Tensor, len(m.Graph.Initializers))
	for i, t := range m.Graph.Initializers {
		inits[i] = t
		if t.External() || len(t.RawData) < threshold {
			continue
		}
		moved = append(moved, t)
	}
	if len(moved) == 0 {
		return m, nil
	}

	offsets := make(map[*Tensor]int64, len(moved))
	err = writeFileAtomic(dataPath, func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, 1<<20)
		var off int64
		pad := make([]byte, externalAlign)
		for _, t := range moved {
			if rem := off % externalAlign; rem != 0 {
				n, err := bw.Write(pad[:externalAlign-rem])
				if err != nil {
					return err
				}
				off += int64(n)
			}
			offsets[t] = off
			n, err := bw.Write(t.RawData)
			if err != nil {
				return err
			}
			off += int64(n)
		}
		return bw.Flush()
	})
	if err != nil {
		return nil, err
	}

	for i, t := range inits {
		off, ok := offsets[t]
		if !ok {
			continue
		}
		ct := *t
		ct.RawData = nil
		ct.DataLocation = LocationExternal
		ct.ExternalData = []StringEntry{
			{Key: "location", Value: filepath.ToSlash(loc)},
			{Key: "offset", Value: strconv.FormatInt(off, 10)},
			{Key: "length", Value: strconv.Itoa(len(t.RawData))},
		}
		inits[i] = &ct
	}

	g := *m.Graph
	g.Initializers = inits
	out := *m
	out.Graph = &g
	return &out, nil
}

func writeFileAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = write(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
