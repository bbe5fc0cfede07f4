package onnx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadOptions controls Load.
type LoadOptions struct {
	// ExternalData resolves initializers stored outside the model file into RawData.
	// When false, external references are kept as-is.
	ExternalData bool
}

// mappedFile is a read-only view over a whole file.
type mappedFile struct {
	data    []byte
	mmapped bool
}

// mapFile maps path read-only. If mmap is unavailable it falls back to ReadAt-based loading.
func mapFile(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !stat.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}
	size64 := stat.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%s: file too large to map", path)
	}
	size := int(size64)
	if size == 0 {
		return &mappedFile{data: []byte{}}, nil
	}

	data, err := mmap(f, size)
	if err == nil {
		return &mappedFile{data: data, mmapped: true}, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return &mappedFile{data: data}, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// Close releases the mapping. Slices of data must not be used afterwards.
func (f *mappedFile) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

// Load reads and decodes the model at path.
func Load(path string, opts LoadOptions) (*Model, error) {
	mf, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Unmarshal(mf.data)
	if cerr := mf.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("load %s: %w", path, ErrNoGraph)
	}
	if opts.ExternalData {
		if err := resolveExternalData(m, filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return m, nil
}

// resolveExternalData pulls every externally stored initializer into RawData and
// clears its external reference. Each referenced file is mapped once.
func resolveExternalData(m *Model, baseDir string) error {
	files := make(map[string]*mappedFile)
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	for _, t := range m.Graph.Initializers {
		if !t.External() {
			continue
		}
		ref, err := parseExternalRef(t)
		if err != nil {
			return err
		}
		path, err := externalPath(baseDir, ref.location)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		mf, ok := files[path]
		if !ok {
			if mf, err = mapFile(path); err != nil {
				return fmt.Errorf("tensor %q: %w", t.Name, err)
			}
			files[path] = mf
		}

		size := int64(len(mf.data))
		end := size
		if ref.length >= 0 {
			end = ref.offset + ref.length
		}
		if ref.offset > size || end > size || end < ref.offset {
			return fmt.Errorf("%w: tensor %q range [%d,%d) outside %s (%d bytes)",
				ErrExternalData, t.Name, ref.offset, end, ref.location, size)
		}
		t.RawData = append([]byte(nil), mf.data[ref.offset:end]...)
		t.ExternalData = nil
		t.DataLocation = LocationDefault
	}
	return nil
}

type externalRef struct {
	location string
	offset   int64
	length   int64 // -1 when the payload runs to end of file
}

func parseExternalRef(t *Tensor) (externalRef, error) {
	ref := externalRef{length: -1}
	for _, e := range t.ExternalData {
		switch e.Key {
		case "location":
			ref.location = e.Value
		case "offset", "length":
			v, err := strconv.ParseInt(e.Value, 10, 64)
			if err != nil || v < 0 {
				return ref, fmt.Errorf("%w: tensor %q has invalid %s %q", ErrExternalData, t.Name, e.Key, e.Value)
			}
			if e.Key == "offset" {
				ref.offset = v
			} else {
				ref.length = v
			}
		}
	}
	if ref.location == "" {
		return ref, fmt.Errorf("%w: tensor %q has no location", ErrExternalData, t.Name)
	}
	return ref, nil
}

// externalPath resolves a location relative to the model directory. Locations may
// not be absolute or climb out of baseDir.
func externalPath(baseDir, location string) (string, error) {
	if filepath.IsAbs(location) {
		return "", fmt.Errorf("%w: absolute location %q", ErrExternalData, location)
	}
	clean := filepath.Clean(location)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: location %q escapes the model directory", ErrExternalData, location)
	}
	return filepath.Join(baseDir, clean), nil
}
