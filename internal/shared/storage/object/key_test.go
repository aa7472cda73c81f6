package object

import (
	"io"
	"strings"
	"testing"

	"trial-estimator/internal/shared/util"
)

func TestNewKey(t *testing.T) {
	a, err := NewKey("study-1", "dir/protocol.pdf")
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	b, _ := NewKey("study-1", "dir/protocol.pdf")
	if a == b {
		t.Fatalf("expected unique keys, got %q twice", a)
	}
	if !strings.HasPrefix(a, util.HashNamespace("study-1")+"/") || !strings.HasSuffix(a, "_dir_protocol.pdf") {
		t.Fatalf("unexpected key %q", a)
	}
	if _, err := NewKey("study-1", "../secrets"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestSniffReplaysHead(t *testing.T) {
	body := "%PDF-1.7\n" + strings.Repeat("x", 1024)
	mimeType, r, err := Sniff(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if mimeType != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", mimeType)
	}
	got, _ := io.ReadAll(r)
	if string(got) != body {
		t.Fatalf("sniffed reader lost bytes: %d of %d", len(got), len(body))
	}

	mimeType, r, err = Sniff(strings.NewReader(""))
	if err != nil || mimeType != "text/plain; charset=utf-8" {
		t.Fatalf("empty body: %q %v", mimeType, err)
	}
	if got, _ := io.ReadAll(r); len(got) != 0 {
		t.Fatalf("expected empty replay, got %q", got)
	}
}
