package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vitalis-app/collector/internal/config"
)

// LogFileName is the active file of the log backend.
const LogFileName = "metrics.jsonl"

// maxLineBytes bounds a single record line when reading.
const maxLineBytes = 1 << 20

// LogBackend appends one JSON record per line to a file in dir. The file is
// rotated by lumberjack once it exceeds MaxSizeMB; backups are named
// metrics-<time>.jsonl and queries read them oldest first, then the active file.
type LogBackend struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	out    *lumberjack.Logger
	closed bool
}

// OpenLog opens or creates the log in cfg.Dir. A trailing partial line left
// by a crash is terminated so that new records start on a fresh line.
// MaxBackups of zero keeps every backup.
func OpenLog(cfg config.LogConfig, logger *zap.Logger) (*LogBackend, error) {
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: creating log directory: %v", config.ErrInvalidConfig, err)
	}
	b := &LogBackend{dir: cfg.Dir, logger: logger}
	if err := b.terminateTail(); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	b.out = &lumberjack.Logger{
		Filename:   b.activePath(),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	return b, nil
}

func (b *LogBackend) activePath() string {
	return filepath.Join(b.dir, LogFileName)
}

// backups returns rotated files oldest first. The timestamp in the name
// sorts chronologically.
func (b *LogBackend) backups() ([]string, error) {
	ext := filepath.Ext(LogFileName)
	pattern := filepath.Join(b.dir, strings.TrimSuffix(LogFileName, ext)+"-*"+ext)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// terminateTail creates the active file if needed and appends a newline when
// it does not end with one.
func (b *LogBackend) terminateTail() error {
	f, err := os.OpenFile(b.activePath(), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("reading log tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminating partial line: %w", err)
	}
	b.logger.Warn("Terminated partial trailing record", zap.String("file", b.activePath()))
	return nil
}

// Save implements Backend.
func (b *LogBackend) Save(_ context.Context, r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("log backend closed")
	}
	if _, err := b.out.Write(line); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Query implements Backend.
func (b *LogBackend) Query(_ context.Context, q Query) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Record
	err := b.scan(func(r Record) {
		if q.Match(r) {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListEndpoints implements Backend.
func (b *LogBackend) ListEndpoints(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{})
	err := b.scan(func(r Record) {
		seen[r.Endpoint] = struct{}{}
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// scan calls fn for every decodable record in the backups and the active
// file. Malformed lines are skipped. Must be called with b.mu held.
func (b *LogBackend) scan(fn func(Record)) error {
	paths, err := b.backups()
	if err != nil {
		return err
	}
	paths = append(paths, b.activePath())

	skipped := 0
	for _, path := range paths {
		s, err := scanFile(path, fn)
		if err != nil {
			// A backup can be pruned between Glob and Open.
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		skipped += s
	}
	if skipped > 0 {
		b.logger.Debug("Skipped malformed log records", zap.Int("count", skipped))
	}
	return nil
}

func scanFile(path string, fn func(Record)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, tooLong, err := readLine(reader)
		if tooLong {
			skipped++
		} else if len(line) > 0 {
			var r Record
			if jerr := json.Unmarshal(line, &r); jerr != nil || r.Endpoint == "" {
				skipped++
			} else {
				fn(r)
			}
		}
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			return skipped, fmt.Errorf("reading %s: %w", path, err)
		}
	}
}

// readLine returns the next line without surrounding whitespace. Lines
// longer than maxLineBytes are discarded and reported as tooLong.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	var buf []byte
	for {
		var chunk []byte
		chunk, err = r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if tooLong {
			return nil, true, err
		}
		return bytes.TrimSpace(buf), false, err
	}
}

// Close implements Backend.
func (b *LogBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.out.Close()
}
