// Package extract turns uploaded PDF bytes into plain text.
//
// The poppler `pdftotext` tool is used when it is on PATH. Otherwise, or if
// it fails, a built-in reader pulls string operands out of BT/ET text blocks,
// inflating Flate-compressed content streams first.
package extract

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

// ErrPDFToolNotFound is returned by CheckAvailable when pdftotext is missing.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")

// CommandRunner runs an external command with stdin and returns stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// PDF extracts text from PDF documents.
type PDF struct {
	runner    CommandRunner
	useRunner bool
	logger    *slog.Logger
}

// New returns a PDF extractor that uses pdftotext if it is installed.
func New(logger *slog.Logger) *PDF {
	p := NewWithRunner(execRunner{}, logger)
	if err := CheckAvailable(); err != nil {
		p.logger.Warn("pdftotext unavailable, using built-in reader", "err", err)
		p.useRunner = false
	}
	return p
}

// NewWithRunner returns a PDF extractor that always tries r first.
func NewWithRunner(r CommandRunner, logger *slog.Logger) *PDF {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDF{runner: r, useRunner: r != nil, logger: logger.With("component", "extract")}
}

// Extract returns the document text. Unreadable input and documents with no
// text layer fail with domain.ErrExtraction.
func (p *PDF) Extract(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return "", fmt.Errorf("extract: missing %%PDF header: %w", domain.ErrExtraction)
	}

	if p.useRunner {
		out, err := p.runner.Run(ctx, "pdftotext", []string{"-enc", "UTF-8", "-", "-"}, data)
		if err == nil && strings.TrimSpace(string(out)) != "" {
			return string(out), nil
		}
		if err != nil {
			p.logger.Warn("pdftotext failed, falling back", "err", err)
		}
	}

	text := readTextBlocks(data)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("extract: no text layer found: %w", domain.ErrExtraction)
	}
	return text, nil
}

var streamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)

// readTextBlocks scans the raw file and every inflatable content stream.
func readTextBlocks(data []byte) string {
	var parts []string
	if t := textOperands(data); t != "" {
		parts = append(parts, t)
	}
	for _, m := range streamRe.FindAllSubmatch(data, -1) {
		zr, err := zlib.NewReader(bytes.NewReader(m[1]))
		if err != nil {
			continue
		}
		inflated, err := io.ReadAll(zr)
		zr.Close()
		if err != nil && len(inflated) == 0 {
			continue
		}
		if t := textOperands(inflated); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// textOperands collects the (literal) string operands found between BT and ET.
func textOperands(data []byte) string {
	var texts []string
	inText := false
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 'B' && data[i+1] == 'T' && (i == 0 || !isAlpha(data[i-1])) {
			inText = true
			i++
			continue
		}
		if data[i] == 'E' && data[i+1] == 'T' && inText && (i+2 >= len(data) || !isAlpha(data[i+2])) {
			inText = false
			i++
			continue
		}
		if inText && data[i] == '(' {
			s, next := literalString(data, i+1)
			if s = strings.TrimSpace(s); s != "" {
				texts = append(texts, s)
			}
			i = next
		}
	}
	return strings.Join(texts, " ")
}

// literalString decodes a PDF literal string starting after its '(' and
// returns the index of the closing ')'. Nested balanced parens are kept.
func literalString(data []byte, i int) (string, int) {
	var b strings.Builder
	depth := 0
	for ; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '\\' && i+1 < len(data):
			i++
			switch data[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(data[i])
			}
		case c == '(':
			depth++
			b.WriteByte(c)
		case c == ')':
			if depth == 0 {
				return b.String(), i
			}
			depth--
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), i
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
