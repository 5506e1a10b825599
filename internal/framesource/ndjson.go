package framesource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// NDJSONDetector replays score vectors from newline-delimited JSON, one
// object per line:
//
//	{"happy":0.91,"neutral":0.06,"sad":0.03}
//	{}
//
// Blank lines and lines starting with '#' are skipped. An empty object is a
// frame without a face. Detect returns io.EOF after the last line.
type NDJSONDetector struct {
	mu   sync.Mutex
	sc   *bufio.Scanner
	line int
}

var _ Detector = (*NDJSONDetector)(nil)

// NewNDJSONDetector reads vectors from r.
func NewNDJSONDetector(r io.Reader) *NDJSONDetector {
	return &NDJSONDetector{sc: bufio.NewScanner(r)}
}

// Detect returns the next vector. A malformed line is reported as an error
// and skipped on the following call.
func (d *NDJSONDetector) Detect(ctx context.Context) (emotion.ScoreVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.sc.Scan() {
		d.line++
		text := strings.TrimSpace(d.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var v emotion.ScoreVector
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("framesource: ndjson line %d: %w", d.line, err)
		}
		return v, nil
	}
	if err := d.sc.Err(); err != nil {
		return nil, fmt.Errorf("framesource: ndjson read: %w", err)
	}
	return nil, io.EOF
}
