//go:build !unix

package onnx

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("mmap is not supported on this platform")

func mmap(_ *os.File, _ int) ([]byte, error) {
	return nil, errNoMmap
}

func munmap(_ []byte) error {
	return errNoMmap
}
