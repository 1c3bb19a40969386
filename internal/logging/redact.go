package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	redacted = "[REDACTED]"
	omitted  = "[OMITTED]"
)

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder to redact sensitive fields and
// truncate large ones.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields   map[string]bool
	truncateFields map[string]bool
	redactRegex    []*regexp.Regexp
	maxLength      int
}

// NewRedactingEncoder wraps an encoder with redaction rules.
// Returns error if any redaction pattern fails to compile.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	var patterns []*regexp.Regexp
	for _, p := range cfg.Patterns {
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{
		Encoder:        base,
		redactFields:   lowerSet(cfg.Fields),
		truncateFields: lowerSet(cfg.Truncate),
		redactRegex:    patterns,
		maxLength:      cfg.MaxLength,
	}, nil
}

func lowerSet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = true
	}
	return m
}

func (e *RedactingEncoder) shouldRedactKey(key string) bool {
	return e.redactFields[strings.ToLower(key)]
}

func (e *RedactingEncoder) shouldTruncateKey(key string) bool {
	return e.truncateFields[strings.ToLower(key)]
}

// scrub returns the value to log for a string field.
func (e *RedactingEncoder) scrub(key, val string) string {
	if e.shouldRedactKey(key) {
		return redacted
	}
	for _, re := range e.redactRegex {
		if re.MatchString(val) {
			return "[REDACTED:pattern]"
		}
	}
	if e.shouldTruncateKey(key) {
		return truncate(val, e.maxLength)
	}
	return val
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s...[truncated:%d]", string(runes[:limit]), len(runes)-limit)
}

// scrubField rewrites one field before it reaches the wrapped encoder.
func (e *RedactingEncoder) scrubField(f zapcore.Field) zapcore.Field {
	switch f.Type {
	case zapcore.StringType:
		return zap.String(f.Key, e.scrub(f.Key, f.String))
	case zapcore.ByteStringType, zapcore.BinaryType:
		if e.shouldRedactKey(f.Key) {
			return zap.String(f.Key, redacted)
		}
		if e.shouldTruncateKey(f.Key) {
			if b, ok := f.Interface.([]byte); ok {
				return zap.String(f.Key, truncate(string(b), e.maxLength))
			}
		}
	case zapcore.ReflectType, zapcore.ObjectMarshalerType, zapcore.ArrayMarshalerType, zapcore.StringerType:
		if e.shouldRedactKey(f.Key) {
			return zap.String(f.Key, redacted)
		}
		if e.shouldTruncateKey(f.Key) {
			return zap.String(f.Key, omitted)
		}
	}
	return f
}

// EncodeEntry scrubs per-call fields; fields added with With arrive
// through the Add methods below.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.redactFields == nil && e.truncateFields == nil && len(e.redactRegex) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	scrubbed := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		scrubbed[i] = e.scrubField(f)
	}
	return e.Encoder.EncodeEntry(ent, scrubbed)
}

func (e *RedactingEncoder) AddString(key, val string) {
	e.Encoder.AddString(key, e.scrub(key, val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	e.Encoder.AddString(key, e.scrub(key, string(val)))
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	if e.shouldTruncateKey(key) {
		e.Encoder.AddString(key, truncate(string(val), e.maxLength))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected drops the whole value for sensitive or truncated keys.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	if e.shouldTruncateKey(key) {
		e.Encoder.AddString(key, omitted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:        e.Encoder.Clone(),
		redactFields:   e.redactFields,
		truncateFields: e.truncateFields,
		redactRegex:    e.redactRegex,
		maxLength:      e.maxLength,
	}
}
