package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// consoleHandler renders one human-oriented line per record:
//
//	2026-03-14 09:12:01 INFO Delivery · Release #12 (publish) [workflow]: stage started version=1.2.3
//
// The lane, item, and stage attributes fold into the subject prefix
// instead of appearing as key=value pairs.
type consoleHandler struct {
	mu     sync.Mutex
	writer io.Writer
	level  *slog.LevelVar

	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{writer: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	subject, component, kvs := splitSubject(kvs)

	var buf bytes.Buffer
	buf.Grow(128 + len(kvs)*24)
	h.writeHeader(&buf, record, subject, component)
	for _, kv := range kvs {
		if kv.key == "" {
			continue
		}
		buf.WriteByte(' ')
		buf.WriteString(kv.key)
		buf.WriteByte('=')
		buf.WriteString(formatValue(kv.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// splitSubject pulls the subject-forming fields out of kvs, returning
// the rendered subject, the component, and the remaining pairs. First
// occurrence wins when a field repeats.
func splitSubject(kvs []kv) (subject, component string, rest []kv) {
	var itemID, stage, lane string
	rest = kvs[:0]
	for _, kv := range kvs {
		switch kv.key {
		case FieldComponent:
			if component == "" {
				component = attrString(kv.value)
			}
		case FieldItemID:
			if itemID == "" {
				itemID = attrString(kv.value)
			}
		case FieldStage:
			if stage == "" {
				stage = attrString(kv.value)
			}
		case FieldLane:
			if lane == "" {
				lane = attrString(kv.value)
			}
		default:
			rest = append(rest, kv)
		}
	}
	return FormatSubject(lane, itemID, stage), component, rest
}

func (h *consoleHandler) writeHeader(buf *bytes.Buffer, record slog.Record, subject, component string) {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.In(time.Local).Format(consoleTimeLayout))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	buf.WriteByte(' ')

	prefix := component
	if subject != "" {
		prefix = subject
		if component != "" {
			prefix = subject + " [" + component + "]"
		}
	}
	if prefix != "" {
		buf.WriteString(prefix)
		buf.WriteString(": ")
	}

	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf.WriteString(msg)

	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *consoleHandler) clone() *consoleHandler {
	clone := &consoleHandler{
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
	}
	if len(h.attrs) > 0 {
		clone.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		clone.groups = append([]string(nil), h.groups...)
	}
	return clone
}

// kv is a flattened attribute: group nesting collapses into dotted keys
// so console lines stay single-level.
type kv struct {
	key   string
	value slog.Value
}

func flattenAttrs(dst *[]kv, path []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, path, attr)
	}
}

func flattenAttr(dst *[]kv, path []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := path
		if attr.Key != "" {
			next = append(append(make([]string, 0, len(path)+1), path...), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	switch {
	case len(path) > 0 && key != "":
		key = strings.Join(path, ".") + "." + key
	case len(path) > 0:
		key = strings.Join(path, ".")
	}
	if key == "" {
		key = attr.Key
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}
