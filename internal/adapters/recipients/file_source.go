package recipients

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikey/batch-mailer/internal/suppression"
	"github.com/mikey/batch-mailer/internal/utils"
	"go.uber.org/zap"
)

// ctxCheckInterval is how many entries are read between context checks
const ctxCheckInterval = 1024

// maxLineLength is far above any valid address; longer lines are skipped
const maxLineLength = 4096

// Options controls how a recipient list is cleaned while loading
type Options struct {
	Deduplicate bool
	Suppression *suppression.Checker
}

// FileSource loads recipients from a text or CSV file
type FileSource struct {
	path   string
	opts   Options
	text   *utils.TextProcessor
	logger *zap.Logger
}

// NewFileSource creates a recipient source for path. Files ending in .csv use
// the first column of every record; anything else is read one address per line.
func NewFileSource(path string, opts Options, text *utils.TextProcessor, logger *zap.Logger) *FileSource {
	return &FileSource{
		path:   path,
		opts:   opts,
		text:   text,
		logger: logger,
	}
}

// Load reads the file and returns the cleaned recipient list in file order
func (s *FileSource) Load(ctx context.Context) ([]string, error) {
	if s.path == "" {
		return nil, errors.New("no recipients file configured")
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipients file: %w", err)
	}
	defer f.Close()

	var raw []string
	if strings.EqualFold(filepath.Ext(s.path), ".csv") {
		raw, err = readCSV(ctx, f)
	} else {
		raw, err = readLines(ctx, f, s.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients file %s: %w", s.path, err)
	}

	return Clean(raw, s.opts, s.text, s.logger), nil
}

// Clean normalizes entries and applies deduplication and suppression, keeping order
func Clean(raw []string, opts Options, text *utils.TextProcessor, logger *zap.Logger) []string {
	var seen map[string]struct{}
	if opts.Deduplicate {
		seen = make(map[string]struct{}, len(raw))
	}

	result := make([]string, 0, len(raw))
	duplicates, suppressed := 0, 0

	for _, entry := range raw {
		addr := text.NormalizeAddress(entry)
		if addr == "" {
			continue
		}

		if seen != nil {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				duplicates++
				continue
			}
			seen[key] = struct{}{}
		}

		if opts.Suppression != nil && opts.Suppression.IsSuppressed(addr) {
			suppressed++
			continue
		}

		result = append(result, addr)
	}

	logger.Info("Loaded recipients",
		zap.Int("entries", len(raw)),
		zap.Int("recipients", len(result)),
		zap.Int("duplicates", duplicates),
		zap.Int("suppressed", suppressed))

	return result
}

func readLines(ctx context.Context, r io.Reader, logger *zap.Logger) ([]string, error) {
	var lines []string
	reader := bufio.NewReader(r)
	for n := 1; ; n++ {
		if n%ctxCheckInterval == 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		line := strings.TrimSpace(raw)
		switch {
		case len(line) > maxLineLength:
			logger.Warn("Skipping over-long recipient line",
				zap.Int("line", n),
				zap.Int("bytes", len(line)))
		case line != "" && !strings.HasPrefix(line, "#"):
			lines = append(lines, line)
		}

		if err != nil {
			return lines, nil
		}
	}
}

func readCSV(ctx context.Context, r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []string
	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		field := strings.TrimSpace(record[0])
		// A header row names the column instead of holding an address
		if n == 0 && !strings.Contains(field, "@") {
			continue
		}
		if field != "" {
			entries = append(entries, field)
		}
	}
	return entries, nil
}
