// Package seed loads person ids from an id list (one profile URL or id per
// line) into the store as unprocessed rows.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// Stats counts what Load did with each line.
type Stats struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
}

// maxLine bounds a single input line.
const maxLine = 1 << 20

// Load reads r line by line. Blank lines are ignored; lines that do not
// contain filter (when set) are counted as skipped. The id is the text after
// the last '/'.
func Load(ctx context.Context, store crawler.Store, r io.Reader, filter string, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var st Stats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("seed interrupted at line %d: %w", line, err)
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if filter != "" && !strings.Contains(text, filter) {
			st.Skipped++
			logger.Debug("ignoring line", zap.Int("line", line), zap.String("text", text))
			continue
		}
		id := IDFromLine(text)
		if id == "" {
			st.Skipped++
			continue
		}
		res, err := store.UpsertPerson(ctx, id)
		if err != nil {
			return st, fmt.Errorf("seed line %d (%s): %w", line, id, err)
		}
		if res == crawler.Inserted {
			st.Inserted++
		} else {
			st.Existing++
		}
	}
	if err := scanner.Err(); err != nil {
		return st, fmt.Errorf("read id list: %w", err)
	}
	logger.Info("seed loaded",
		zap.Int("inserted", st.Inserted),
		zap.Int("existing", st.Existing),
		zap.Int("skipped", st.Skipped),
	)
	return st, nil
}

// IDFromLine returns the text after the last '/' of line, trimmed.
func IDFromLine(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.LastIndexByte(line, '/'); i >= 0 {
		line = line[i+1:]
	}
	return strings.TrimSpace(line)
}
