// Package labelset edits the label set of an already-canonical wire
// line (class{labels} value), without touching the timestamp prefix.
package labelset

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrParse is returned when a line is missing the structural delimiters
// ('{', "} ", '=') a well-formed canonical line requires.
var ErrParse = errors.New("labelset: malformed canonical line")

// AddLabels inserts extras (a pre-formatted, comma-separated label list
// with no surrounding braces) into line's label set. If extras is empty,
// line is returned unchanged.
func AddLabels(line, extras string) string {
	if extras == "" {
		return line
	}
	idx := strings.IndexByte(line, '{')
	if idx < 0 {
		return line
	}
	head, tail := line[:idx+1], line[idx+1:]
	if strings.HasPrefix(strings.TrimLeft(tail, " "), "}") {
		return head + extras + tail
	}
	return head + extras + "," + tail
}

// RemoveLabels drops every label whose key is in drop. If drop is empty,
// line is returned unchanged.
func RemoveLabels(line string, drop map[string]struct{}) (string, error) {
	if len(drop) == 0 {
		return line, nil
	}

	braceIdx := strings.IndexByte(line, '{')
	if braceIdx < 0 {
		return "", ErrParse
	}
	class := line[:braceIdx]
	remainder := line[braceIdx+1:]

	endIdx := strings.Index(remainder, "} ")
	if endIdx < 0 {
		return "", ErrParse
	}
	labelsChunk := remainder[:endIdx]
	valueChunk := remainder[endIdx+2:]

	var kept []string
	if labelsChunk != "" {
		for _, label := range strings.Split(labelsChunk, ",") {
			eq := strings.LastIndexByte(label, '=')
			if eq < 0 {
				return "", ErrParse
			}
			key, val := label[:eq], label[eq+1:]
			if _, ok := drop[key]; ok {
				continue
			}
			kept = append(kept, key+"="+val)
		}
	}

	var b strings.Builder
	b.WriteString(class)
	b.WriteByte('{')
	b.WriteString(strings.Join(kept, ","))
	b.WriteString("} ")
	b.WriteString(valueChunk)
	return b.String(), nil
}

// EncodeLabels percent-encodes and comma-joins a label map into the
// pre-formatted extras string AddLabels expects, with keys sorted for a
// deterministic encoding.
func EncodeLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(labels[k]))
	}
	return strings.Join(parts, ",")
}
