package shard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 4 << 20

// Line is one record of a JSONL input. Number is 1-based and counts every
// physical line, blank or skipped ones included.
type Line struct {
	Number int    `json:"line"`
	Text   string `json:"text"`
}

// ReadLines reads a JSONL stream. Blank lines are ignored. A line that is not
// valid JSON fails the read unless skipInvalid is set, in which case it is
// dropped and counted in the returned skipped total.
func ReadLines(r io.Reader, skipInvalid bool) (lines []Line, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if !json.Valid([]byte(text)) {
			if skipInvalid {
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("line %d: invalid JSON", n)
		}
		lines = append(lines, Line{Number: n, Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read lines: %w", err)
	}
	return lines, skipped, nil
}

// Chunk partitions items into consecutive shards of at most size items. The
// last shard may be shorter.
func Chunk[T any](items []T, size int) (Slices[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk: shard size must be positive, got %d", size)
	}
	out := make(Slices[T], 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out, nil
}
