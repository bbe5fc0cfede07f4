// Package webui embeds the run dashboard served by onnxprep serve.
package webui

import "embed"

//go:embed static/*
var staticFS embed.FS

// Index returns the dashboard page.
func Index() []byte {
	data, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		// This should never happen because we control the embed path
		panic(err)
	}
	return data
}
