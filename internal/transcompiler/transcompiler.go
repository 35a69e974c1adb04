// Package transcompiler converts one source exposition line into the
// canonical wire format used for spooling and ingest:
//
//	<timestamp_us>// <class>{<labels>} <value>
package transcompiler

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a Prometheus line has neither a `{...}`
// class nor a space separating the class from its value.
var ErrMalformed = errors.New("transcompiler: line has no class/value separator")

// Sensision lines are already canonical; only surrounding whitespace is
// trimmed.
func Sensision(line string) (string, error) {
	return strings.TrimSpace(line), nil
}

// Prometheus converts a single line of Prometheus text exposition format
// into the canonical wire format. nowUS is the scrape-start timestamp, in
// microseconds since epoch, used when the line carries no explicit
// timestamp. An empty result with a nil error means "skip this line"
// (comment, blank line, or a non-finite value).
func Prometheus(line string, nowUS int64) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", nil
	}

	classWithLabels, rest, err := splitClassAndRest(line)
	if err != nil {
		return "", err
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", ErrMalformed
	}
	value := fields[0]
	switch value {
	case "+Inf", "-Inf", "nan", "NaN":
		return "", nil
	}

	tsUS := nowUS
	if len(fields) > 1 {
		if tsMS, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			tsUS = tsMS * 1000
		}
	}

	class, labelsRaw := splitClassLabels(classWithLabels)
	encoded := url.QueryEscape(strings.TrimSpace(class))
	labels := encodeLabelList(labelsRaw)

	var b strings.Builder
	b.Grow(len(encoded) + len(labels) + len(value) + 8)
	b.WriteString(strconv.FormatInt(tsUS, 10))
	b.WriteString("// ")
	b.WriteString(encoded)
	b.WriteByte('{')
	b.WriteString(labels)
	b.WriteString("} ")
	b.WriteString(value)
	return b.String(), nil
}

// splitClassAndRest finds the boundary between the class{labels} portion
// and the value/timestamp portion: the rightmost '}' if the line contains
// '{', else the first space.
func splitClassAndRest(line string) (classWithLabels, rest string, err error) {
	if strings.Contains(line, "{") {
		end := strings.LastIndex(line, "}")
		if end < 0 {
			return "", "", ErrMalformed
		}
		return line[:end+1], strings.TrimSpace(line[end+1:]), nil
	}
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return "", "", ErrMalformed
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), nil
}

func splitClassLabels(classWithLabels string) (class, labelsRaw string) {
	idx := strings.IndexByte(classWithLabels, '{')
	if idx < 0 {
		return classWithLabels, ""
	}
	class = classWithLabels[:idx]
	labelsRaw = strings.TrimSuffix(classWithLabels[idx+1:], "}")
	return class, labelsRaw
}

// encodeLabelList walks a Prometheus label list (without the surrounding
// braces), percent-encoding each key/value token while leaving the `=`
// and `,` separators verbatim. A `"` toggles quoting; quote characters
// themselves are never copied into the output, matching Prometheus'
// quoted label-value syntax.
func encodeLabelList(raw string) string {
	if raw == "" {
		return ""
	}
	var out strings.Builder
	var buf strings.Builder
	inQuote := false

	flush := func() {
		if buf.Len() > 0 {
			out.WriteString(url.QueryEscape(buf.String()))
			buf.Reset()
		}
	}

	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == '=' || r == ','):
			flush()
			out.WriteRune(r)
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out.String()
}
