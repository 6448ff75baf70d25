// Package faqstore reads and writes FAQ corpora as JSONL, one object per line.
package faqstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/semcache/internal/domain"
)

// maxLine bounds a single JSONL record. A 4096-dim embedding in JSON is well below it.
const maxLine = 16 << 20

// LoadEntries reads embedded FAQ entries.
func LoadEntries(path string) ([]domain.FaqEntry, error) {
	return loadFile[domain.FaqEntry](path)
}

// LoadRaw reads unembedded FAQ rows.
func LoadRaw(path string) ([]domain.RawFaq, error) {
	return loadFile[domain.RawFaq](path)
}

// LoadCases reads evaluation cases.
func LoadCases(path string) ([]domain.EvalCase, error) {
	return loadFile[domain.EvalCase](path)
}

// SaveEntries writes entries to path. The file is replaced atomically, so a
// failed write leaves any previous index intact.
func SaveEntries(path string, entries []domain.FaqEntry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if err := Encode(tmp, entries); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Encode writes one JSON object per line.
func Encode[T any](w io.Writer, items []T) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return fmt.Errorf("encode item %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Decode reads JSONL from r. Blank lines are skipped. Errors carry the
// 1-based line number.
func Decode[T any](r io.Reader) ([]T, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var out []T
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(b, &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return out, nil
}

func loadFile[T any](path string) ([]T, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	items, err := Decode[T](f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}
