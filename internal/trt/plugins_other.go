//go:build !linux

package trt

func checkSharedObject(string) error { return nil }
