package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record is what the runner reports for one finished step.
type Record struct {
	RunID    string
	Job      string
	Step     string
	State    string
	LogPath  string
	LogHash  string
	RunnerID string
}

// Block is a tamper-evident record for one step of one run
type Block struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
	Job       string `json:"job"`
	Step      string `json:"step"`
	State     string `json:"state"`
	LogPath   string `json:"logPath"`
	LogHash   string `json:"logHash"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	RunnerID  string `json:"runnerId"`
	Signature string `json:"signature"`
	PubKey    string `json:"pubKey"`
}

// canonicalData returns the JSON bytes used to compute the block hash.
// It excludes Hash, Signature and PubKey.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		RunID     string `json:"runId"`
		Job       string `json:"job"`
		Step      string `json:"step"`
		State     string `json:"state"`
		LogPath   string `json:"logPath"`
		LogHash   string `json:"logHash"`
		PrevHash  string `json:"prevHash"`
		RunnerID  string `json:"runnerId"`
	}{
		Index:     b.Index,
		Timestamp: b.Timestamp,
		RunID:     b.RunID,
		Job:       b.Job,
		Step:      b.Step,
		State:     b.State,
		LogPath:   b.LogPath,
		LogHash:   b.LogHash,
		PrevHash:  b.PrevHash,
		RunnerID:  b.RunnerID,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewBlock constructs a block and computes its hash (no signature yet)
func NewBlock(index int, rec Record, prevHash string) (*Block, error) {
	blk := &Block{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     rec.RunID,
		Job:       rec.Job,
		Step:      rec.Step,
		State:     rec.State,
		LogPath:   rec.LogPath,
		LogHash:   rec.LogHash,
		PrevHash:  prevHash,
		RunnerID:  rec.RunnerID,
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	blk.Hash = h
	return blk, nil
}
