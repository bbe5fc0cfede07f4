package webui

import (
	"strings"
	"testing"
)

func TestIndex(t *testing.T) {
	t.Parallel()
	page := string(Index())
	if !strings.Contains(page, "<title>onnxprep</title>") {
		t.Fatalf("unexpected index page")
	}
	for _, endpoint := range []string{"/v1/capability", "/v1/prepare"} {
		if !strings.Contains(page, endpoint) {
			t.Fatalf("dashboard does not query %s", endpoint)
		}
	}
}
