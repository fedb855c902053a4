package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// JSONL appends one JSON object per line to a trade history file. Each
// record carries a "kind" of "trade" or "equity".
type JSONL struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

type jsonlTrade struct {
	Kind string `json:"kind"`
	TradeRecord
}

type jsonlEquity struct {
	Kind string `json:"kind"`
	EquitySnapshot
}

func (j *JSONL) ensureOpenLocked() error {
	if j.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	j.file = f
	j.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// write appends v and flushes so tailers see the record immediately.
func (j *JSONL) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *JSONL) RecordTrade(t TradeRecord) error {
	return j.write(jsonlTrade{Kind: "trade", TradeRecord: t})
}

func (j *JSONL) RecordEquity(e EquitySnapshot) error {
	return j.write(jsonlEquity{Kind: "equity", EquitySnapshot: e})
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	if j.w != nil {
		firstErr = j.w.Flush()
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.w = nil
	j.file = nil

	if errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}

// ReadJSONLTrades loads every trade record from a JSONL history file,
// skipping equity lines.
func ReadJSONLTrades(path string) ([]TradeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []TradeRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlTrade
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		if rec.Kind == "trade" {
			out = append(out, rec.TradeRecord)
		}
	}
	return out, sc.Err()
}
