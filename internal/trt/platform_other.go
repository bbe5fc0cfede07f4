//go:build !windows

package trt

const platformExcluded = false
