//go:build linux

package trt

import "debug/elf"

func checkSharedObject(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return &LoadError{Path: path, Reason: "not an ELF object", Err: err}
	}
	defer f.Close()
	if f.Type != elf.ET_DYN {
		return &LoadError{Path: path, Reason: "not a shared library (ELF type " + f.Type.String() + ")"}
	}
	return nil
}
