package trt

import (
	"os"
	"strings"
)

// SplitPluginList splits a semicolon separated list of plugin paths.
func SplitPluginList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Preflight checks that every plugin path names a loadable shared library
// before the parser is started. The first failure is returned as a *LoadError.
func Preflight(paths []string) error {
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return &LoadError{Path: p, Err: err}
		}
		if !st.Mode().IsRegular() {
			return &LoadError{Path: p, Reason: "not a regular file"}
		}
		if err := checkSharedObject(p); err != nil {
			return err
		}
	}
	return nil
}
