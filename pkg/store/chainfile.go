// Package store persists chains: a newline-delimited canonical-JSON file
// whose SHA-256 is the chain digest, and an embedded SQLite store. Loads
// always replay through the commit gate so a tampered store cannot produce
// a chain the gate would have refused.
package store

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/chain"
	"github.com/decisiongraph/core/pkg/dgerr"
)

// ChainFile is an append-only JSONL sink for committed cells.
type ChainFile struct {
	mu   sync.Mutex
	path string
}

// NewChainFile opens (creating if absent) the chain file at path.
func NewChainFile(path string) (*ChainFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "open chain file", err)
	}
	_ = f.Close()
	return &ChainFile{path: path}, nil
}

// Append writes one cell as a canonical JSON line.
func (cf *ChainFile) Append(cl *cell.Cell) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	line, err := canonical.Marshal(cl)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(cf.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return dgerr.Wrap(dgerr.KindInternal, "open chain file for append", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return dgerr.Wrap(dgerr.KindInternal, "append cell line", err)
	}
	return nil
}

// WriteAll rewrites the file from a full chain. Used when exporting a chain
// that was built elsewhere; normal operation only ever appends.
func (cf *ChainFile) WriteAll(ch *chain.Chain) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	f, err := os.OpenFile(cf.path, os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return dgerr.Wrap(dgerr.KindInternal, "truncate chain file", err)
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)
	for _, cl := range ch.InOrder() {
		line, err := canonical.Marshal(cl)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return dgerr.Wrap(dgerr.KindInternal, "write cell line", err)
		}
	}
	if err := w.Flush(); err != nil {
		return dgerr.Wrap(dgerr.KindInternal, "flush chain file", err)
	}
	return nil
}

// Load replays the file through a fresh chain's commit gate. Any gate
// failure aborts the load: a half-valid file never yields a chain.
func (cf *ChainFile) Load(graphID string) (*chain.Chain, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	f, err := os.Open(cf.path)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "open chain file", err)
	}
	defer func() { _ = f.Close() }()

	ch := chain.New(graphID)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var cl cell.Cell
		if err := json.Unmarshal(raw, &cl); err != nil {
			return nil, dgerr.Wrap(dgerr.KindIntegrityFail, "malformed cell line", err).
				WithDetail("line", lineNo)
		}
		if err := ch.Append(&cl); err != nil {
			return nil, dgerr.AsError(err).WithDetail("line", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "read chain file", err)
	}
	return ch, nil
}

// Digest returns the SHA-256 of the file's exact bytes — the chain digest.
func (cf *ChainFile) Digest() (string, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	f, err := os.Open(cf.path)
	if err != nil {
		return "", dgerr.Wrap(dgerr.KindInternal, "open chain file", err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", dgerr.Wrap(dgerr.KindInternal, "hash chain file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
