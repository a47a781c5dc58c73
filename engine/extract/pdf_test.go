package extract

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
	stdin  []byte
}

func (m *mockRunner) Run(_ context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	m.name, m.args, m.stdin = name, args, stdin
	return m.output, m.err
}

const plainPDF = "%PDF-1.4\n1 0 obj\n<< /Length 44 >>\nstream\nBT /F1 12 Tf (Opening hours are 9 to 5) Tj ET\nendstream\nendobj\n%%EOF"

func TestExtractUsesRunner(t *testing.T) {
	r := &mockRunner{output: []byte("text from poppler")}
	p := NewWithRunner(r, nil)
	got, err := p.Extract(context.Background(), []byte(plainPDF))
	if err != nil {
		t.Fatal(err)
	}
	if got != "text from poppler" {
		t.Fatalf("got %q", got)
	}
	if r.name != "pdftotext" || r.args[len(r.args)-1] != "-" || !bytes.Equal(r.stdin, []byte(plainPDF)) {
		t.Fatalf("runner called with %s %v", r.name, r.args)
	}
}

func TestExtractFallsBackWhenRunnerFails(t *testing.T) {
	p := NewWithRunner(&mockRunner{err: errors.New("exit status 1")}, nil)
	got, err := p.Extract(context.Background(), []byte(plainPDF))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Opening hours are 9 to 5" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractFallsBackOnEmptyRunnerOutput(t *testing.T) {
	p := NewWithRunner(&mockRunner{output: []byte("  \n")}, nil)
	got, err := p.Extract(context.Background(), []byte(plainPDF))
	if err != nil || !strings.Contains(got, "Opening hours") {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestExtractCompressedStream(t *testing.T) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write([]byte("BT (Refunds take \\(up to\\) 5 days) Tj ET"))
	zw.Close()

	doc := append([]byte("%PDF-1.7\n1 0 obj\n<< /Filter /FlateDecode >>\nstream\n"), z.Bytes()...)
	doc = append(doc, []byte("\nendstream\nendobj\n")...)

	p := NewWithRunner(nil, nil)
	got, err := p.Extract(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Refunds take (up to) 5 days") {
		t.Fatalf("got %q", got)
	}
}

func TestExtractNotPDF(t *testing.T) {
	p := NewWithRunner(&mockRunner{output: []byte("x")}, nil)
	_, err := p.Extract(context.Background(), []byte("hello world"))
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractNoText(t *testing.T) {
	p := NewWithRunner(nil, nil)
	_, err := p.Extract(context.Background(), []byte("%PDF-1.4\n%%EOF"))
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestLiteralStringNested(t *testing.T) {
	s, end := literalString([]byte("a (b) c) rest"), 0)
	if s != "a (b) c" || end != 7 {
		t.Fatalf("got %q, %d", s, end)
	}
}

func TestErrPDFToolNotFound(t *testing.T) {
	if !strings.Contains(ErrPDFToolNotFound.Error(), "pdftotext") {
		t.Fatal("error should name the tool")
	}
}
