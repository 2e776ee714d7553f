package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// minRegisteredSecret is the shortest registered value that gets masked
const minRegisteredSecret = 8

var (
	bearerPattern = regexp.MustCompile(`\b(Bearer|Basic)\s+([A-Za-z0-9\-\._~\+\/]+=*)`)
	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`)
)

// MaskSecret shows the first three and last two characters of long values
func MaskSecret(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}

// Sanitizer wraps a zapcore.Core and masks credentials in messages and
// string fields: Authorization header values, JWTs, and any value
// registered with RegisterSecret.
type Sanitizer struct {
	zapcore.Core
	secrets *sync.Map
}

// NewSanitizer wraps core
func NewSanitizer(core zapcore.Core) *Sanitizer {
	return &Sanitizer{Core: core, secrets: &sync.Map{}}
}

// RegisterSecret adds a resolved credential to the mask list
func (s *Sanitizer) RegisterSecret(value string) {
	if len(value) < minRegisteredSecret {
		return
	}
	s.secrets.Store(value, struct{}{})
}

func (s *Sanitizer) sanitize(str string) string {
	out := str
	s.secrets.Range(func(key, _ interface{}) bool {
		v := key.(string)
		out = strings.ReplaceAll(out, v, MaskSecret(v))
		return true
	})
	out = bearerPattern.ReplaceAllStringFunc(out, func(m string) string {
		parts := bearerPattern.FindStringSubmatch(m)
		return parts[1] + " " + MaskSecret(parts[2])
	})
	out = jwtPattern.ReplaceAllStringFunc(out, func(m string) string {
		return m[:strings.IndexByte(m, '.')] + ".***"
	})
	return out
}

func (s *Sanitizer) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = s.sanitize(f.String)
		case zapcore.ByteStringType:
			if b, ok := f.Interface.([]byte); ok {
				f.Interface = []byte(s.sanitize(string(b)))
			}
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				msg := err.Error()
				if clean := s.sanitize(msg); clean != msg {
					f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: clean}
				}
			}
		}
		out[i] = f
	}
	return out
}

// Write masks the entry before handing it to the wrapped core
func (s *Sanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitize(entry.Message)
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

// With returns a sanitizing child core sharing the mask list
func (s *Sanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &Sanitizer{Core: s.Core.With(s.sanitizeFields(fields)), secrets: s.secrets}
}

// Check routes enabled entries through the sanitizer
func (s *Sanitizer) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return ce.AddCore(entry, s)
	}
	return ce
}
