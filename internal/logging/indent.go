package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DepthKey is the field key carrying the nesting depth of a log entry.
const DepthKey = "depth"

const indentUnit = ". "

// Depth marks an entry (or, via With, every entry of a child logger) as
// nested n levels deep. Depths bound with With and given per call add up.
func Depth(n int) zap.Field {
	return zap.Int(DepthKey, n)
}

type indentCore struct {
	zapcore.Core
	depth int
}

// NewIndentCore wraps core so that entries carrying a Depth field have their
// message prefixed with one indent unit per level. The depth is still
// emitted once as a structured field.
func NewIndentCore(core zapcore.Core) zapcore.Core {
	return &indentCore{Core: core}
}

func (c *indentCore) With(fields []zapcore.Field) zapcore.Core {
	depth, rest := splitDepth(fields)
	return &indentCore{Core: c.Core.With(rest), depth: c.depth + depth}
}

func (c *indentCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *indentCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	depth, rest := splitDepth(fields)
	depth += c.depth
	if depth > 0 {
		ent.Message = strings.Repeat(indentUnit, depth) + ent.Message
		rest = append(rest, Depth(depth))
	}
	return c.Core.Write(ent, rest) //nolint:wrapcheck // passthrough to the wrapped core
}

func splitDepth(fields []zapcore.Field) (int, []zapcore.Field) {
	depth := 0
	rest := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		if f.Key == DepthKey && f.Type == zapcore.Int64Type {
			depth += int(f.Integer)
			continue
		}
		rest = append(rest, f)
	}
	return depth, rest
}
