package app

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestWorker(t *testing.T, chunkSize, chunkOverlap int) *Worker {
	t.Helper()
	return &Worker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

func TestNormalizeText(t *testing.T) {
	raw := "  Title\x00\t\nLine   one\r\n\r\nSecond line  "
	got := normalizeText(raw)
	want := "Title Line one Second line"
	if got != want {
		t.Fatalf("normalizeText() = %q, want %q", got, want)
	}
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 10)
	chunks := chunkText(text, 4, 2)
	want := []string{"aaaa", "aaaa", "aaaa", "aaaa"}
	if len(chunks) != len(want) {
		t.Fatalf("chunkText() = %d chunks, want %d: %v", len(chunks), len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkTextDegenerateOverlap(t *testing.T) {
	// Overlap >= size must not loop forever.
	chunks := chunkText(strings.Repeat("b", 6), 3, 3)
	if len(chunks) != 2 {
		t.Fatalf("chunkText() = %v, want two non-overlapping chunks", chunks)
	}
}

func TestParseTextChunksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma delta"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	w := newTestWorker(t, 11, 0)
	chunks, err := w.parseText(path)
	if err != nil {
		t.Fatalf("parseText: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("parseText produced %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Metadata["chunk"] != "0" || chunks[1].Metadata["chunk"] != "1" {
		t.Fatalf("chunk metadata = %v", chunks)
	}
}

func TestParseEPUBExtractsMarkupText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	zw := zip.NewWriter(f)
	chapter, err := zw.Create("OEBPS/chapter1.xhtml")
	if err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	if _, err := chapter.Write([]byte(
		`<html><head><style>p{color:red}</style></head>` +
			`<body><p>First paragraph.</p><p>Second paragraph.</p>` +
			`<script>ignored()</script></body></html>`)); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
	meta, err := zw.Create("mimetype")
	if err != nil {
		t.Fatalf("create mimetype: %v", err)
	}
	if _, err := meta.Write([]byte("application/epub+zip")); err != nil {
		t.Fatalf("write mimetype: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	w := newTestWorker(t, 2000, 100)
	chunks, err := w.parseEPUB(path)
	if err != nil {
		t.Fatalf("parseEPUB: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("parseEPUB produced %d chunks, want 1: %+v", len(chunks), chunks)
	}
	if got := chunks[0].Content; !strings.Contains(got, "First paragraph.") || !strings.Contains(got, "Second paragraph.") {
		t.Fatalf("epub content = %q", got)
	}
	if strings.Contains(chunks[0].Content, "ignored") || strings.Contains(chunks[0].Content, "color") {
		t.Fatalf("script/style text leaked into content: %q", chunks[0].Content)
	}
	if chunks[0].Metadata["section"] != "chapter1.xhtml" {
		t.Fatalf("section metadata = %q", chunks[0].Metadata["section"])
	}
}
