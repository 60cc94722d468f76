package logging

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"scanstep/internal/actions"
)

var pool = buffer.NewPool()

// commandEncoder renders entries as workflow commands:
//
//	DEBUG  ::debug::message key=value
//	INFO   message key=value
//	WARN   ::warning::message key=value
//	ERROR  ::error::message key=value
//
// Outside a hosted runner (plain=true) warnings and errors are colored instead.
type commandEncoder struct {
	zapcore.Encoder
	plain  bool
	fields []zapcore.Field
}

func newCommandEncoder(plain bool) *commandEncoder {
	return &commandEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		plain:   plain,
	}
}

func (enc *commandEncoder) Clone() zapcore.Encoder {
	fields := make([]zapcore.Field, len(enc.fields))
	copy(fields, enc.fields)
	return &commandEncoder{
		Encoder: enc.Encoder.Clone(),
		plain:   enc.plain,
		fields:  fields,
	}
}

// AddString etc. are routed through the embedded encoder by zap for With(...)
// fields; capture string/int fields so they can be rendered inline as well.
func (enc *commandEncoder) AddString(key, val string) {
	enc.fields = append(enc.fields, zap.String(key, val))
	enc.Encoder.AddString(key, val)
}

func (enc *commandEncoder) AddInt64(key string, val int64) {
	enc.fields = append(enc.fields, zap.Int64(key, val))
	enc.Encoder.AddInt64(key, val)
}

func (enc *commandEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	msg := ent.Message
	if ent.LoggerName != "" {
		msg = "[" + ent.LoggerName + "] " + msg
	}
	all := append(append([]zapcore.Field{}, enc.fields...), fields...)
	if kv := renderFields(all); kv != "" {
		msg += " " + kv
	}

	final := pool.Get()
	if enc.plain {
		switch {
		case ent.Level >= zapcore.ErrorLevel:
			final.AppendString(color.RedString("Error: %s", msg))
		case ent.Level == zapcore.WarnLevel:
			final.AppendString(color.YellowString("Warning: %s", msg))
		case ent.Level == zapcore.DebugLevel:
			final.AppendString(color.HiBlackString("%s", msg))
		default:
			final.AppendString(msg)
		}
		final.AppendString("\n")
		return final, nil
	}

	switch {
	case ent.Level >= zapcore.ErrorLevel:
		final.AppendString("::error::")
		final.AppendString(actions.EscapeData(msg))
	case ent.Level == zapcore.WarnLevel:
		final.AppendString("::warning::")
		final.AppendString(actions.EscapeData(msg))
	case ent.Level == zapcore.DebugLevel:
		final.AppendString("::debug::")
		final.AppendString(actions.EscapeData(msg))
	default:
		final.AppendString(msg)
	}
	final.AppendString("\n")
	return final, nil
}

func renderFields(fields []zapcore.Field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Key+"="+fieldValue(f))
	}
	return strings.Join(parts, " ")
}

func fieldValue(f zapcore.Field) string {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", f.Integer)
	case zapcore.BoolType:
		return fmt.Sprintf("%t", f.Integer == 1)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			return err.Error()
		}
	}
	if f.Interface != nil {
		return fmt.Sprintf("%v", f.Interface)
	}
	return ""
}
