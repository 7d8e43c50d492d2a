package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Ledger is an append-only, hash-chained and signed history of step results.
// File format: JSON lines (one block per line).
type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
	keys   *KeyPair
}

// OpenLedger loads an existing ledger file or creates an empty one. keys may
// be nil for read-only use; Append then fails.
func OpenLedger(path string, keys *KeyPair) (*Ledger, error) {
	l := &Ledger{
		blocks: make([]*Block, 0),
		path:   path,
		keys:   keys,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Append creates the next block for rec, signs it, persists it and keeps it
// in memory.
func (l *Ledger) Append(rec Record) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keys == nil || len(l.keys.Private) == 0 {
		return nil, errors.New("private key is empty, cannot sign block")
	}

	prev := ""
	if len(l.blocks) > 0 {
		prev = l.blocks[len(l.blocks)-1].Hash
	}
	b, err := NewBlock(len(l.blocks), rec, prev)
	if err != nil {
		return nil, err
	}
	b.Signature = l.keys.Sign([]byte(b.Hash))
	b.PubKey = hex.EncodeToString(l.keys.Public)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return nil, fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return b, nil
}

// Blocks returns copies of the blocks in order.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = *b
	}
	return out
}

// RunBlocks returns the blocks recorded for one run.
func (l *Ledger) RunBlocks(runID string) []Block {
	var out []Block
	for _, b := range l.Blocks() {
		if b.RunID == runID {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of blocks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the last block hash (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
