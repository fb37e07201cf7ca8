package logger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
)

// attrFormatter has the signature of slog.HandlerOptions.ReplaceAttr.
type attrFormatter func(groups []string, a slog.Attr) slog.Attr

/*
chainFormatters returns formatter which applies "f" in order, nil values are
ignored. Chain stops at the formatter which drops the attribute. Returns nil
when there is nothing to apply.
*/
func chainFormatters(f ...attrFormatter) attrFormatter {
	f = slices.DeleteFunc(f, func(f attrFormatter) bool { return f == nil })
	switch len(f) {
	case 0:
		return nil
	case 1:
		return f[0]
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		for _, fn := range f {
			if a = fn(groups, a); a.Key == "" {
				break
			}
		}
		return a
	}
}

func timeFormatter(format string) attrFormatter {
	switch format {
	case "":
		return nil
	case "none":
		return func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			if t := a.Value.Time(); !t.IsZero() {
				a.Value = slog.StringValue(t.Format(format))
			}
		}
		return a
	}
}

/*
identityFormatter formats peer IDs and agent and transaction addresses:
"short" keeps the head and tail of the value, "none" drops the peer IDs from
the output. Anything else logs the values in full.
*/
func identityFormatter(format string) attrFormatter {
	switch format {
	case "none":
		return func(groups []string, a slog.Attr) slog.Attr {
			if _, ok := peerID(a); ok {
				return slog.Attr{}
			}
			return a
		}
	case "short":
		return func(groups []string, a slog.Attr) slog.Attr {
			if id, ok := peerID(a); ok {
				a.Value = slog.StringValue(shorten(id.String(), 2))
				return a
			}
			if a.Key == AgentKey || a.Key == TxKey {
				a.Value = slog.StringValue(shorten(a.Value.String(), 4))
			}
			return a
		}
	}
	return nil
}

func peerID(a slog.Attr) (peer.ID, bool) {
	if a.Value.Kind() != slog.KindAny {
		return "", false
	}
	id, ok := a.Value.Any().(peer.ID)
	return id, ok
}

func shorten(s string, head int) string {
	if len(s) <= head+8 {
		return s
	}
	return fmt.Sprintf("%s*%s", s[:head], s[len(s)-6:])
}

func dataAsJSON(groups []string, a slog.Attr) slog.Attr {
	if a.Key == DataKey && a.Value.Kind() == slog.KindAny {
		if b, err := json.Marshal(a.Value.Any()); err == nil {
			a.Value = slog.StringValue(string(b))
		}
	}
	return a
}

// consoleAttrs keeps only the attributes useful for the user of the CLI.
func consoleAttrs(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey, slog.MessageKey, ErrorKey, TxKey:
		return a
	}
	return slog.Attr{}
}

/*
ecsAttrs renames the well known attributes to the fields of the Elastic
Common Schema.
*/
func ecsAttrs(groups []string, a slog.Attr) slog.Attr {
	if len(groups) != 0 {
		return a
	}
	switch a.Key {
	case slog.MessageKey:
		return slog.String("message", a.Value.String())
	case slog.SourceKey:
		src, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		return slog.Group("log", slog.Group("origin",
			slog.String("function", funcName(src.Function)),
			slog.Group("file", slog.String("name", src.File), slog.Int("line", src.Line)),
		))
	case NodeIDKey:
		return slog.Group("service", slog.Group("node", slog.Any("name", a.Value)))
	case ErrorKey:
		return slog.Group("error", slog.Any("message", a.Value.Any()))
	case TxKey:
		return slog.Group("transaction", slog.String("id", a.Value.String()))
	case AgentKey:
		return slog.Group("related", slog.String("user", a.Value.String()))
	case DataKey:
		// values of different types under the same key would conflict in the index
		return slog.Group(DataKey, slog.Any(typeName(a.Value), a.Value))
	case traceID:
		return slog.Group("trace", slog.String("id", a.Value.String()))
	case spanID:
		return slog.Group("span", slog.String("id", a.Value.String()))
	}
	return a
}

/*
typeName returns name of the type of "v" usable as JSON key: pointer is
dereferenced and package separator replaced with underscore.
*/
func typeName(v slog.Value) string {
	if k := v.Kind(); k != slog.KindAny && k != slog.KindLogValuer {
		return k.String()
	}
	return strings.ReplaceAll(strings.TrimLeft(fmt.Sprintf("%T", v.Any()), "*"), ".", "_")
}

// funcName strips the package path from the function name reported by slog.Source.
func funcName(fn string) string {
	_, fn = filepath.Split(fn)
	if _, name, ok := strings.Cut(fn, "."); ok {
		return name
	}
	return fn
}
