package feed

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// STOMP commands used by the feed.
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
)

// ErrInvalidFrame is returned for data that is not a STOMP frame.
var ErrInvalidFrame = errors.New("invalid stomp frame")

// Frame is a single STOMP 1.2 frame. A frame with an empty Command is a
// heart-beat.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// Header returns a header value or "".
func (f Frame) Header(name string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// Encode renders the frame including the trailing NUL. Headers are written
// in sorted order.
func (f Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	escape := f.Command != CommandConnect && f.Command != CommandConnected
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k, v = escapeHeader(k), escapeHeader(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Headers["content-length"]; !ok {
			buf.WriteString("content-length:")
			buf.WriteString(strconv.Itoa(len(f.Body)))
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// DecodeFrame parses one frame. Data consisting only of line endings
// decodes to a heart-beat.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return Frame{}, nil
	}

	headerEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd, sepLen = crlf, 4
	}
	if headerEnd < 0 {
		return Frame{}, fmt.Errorf("%w: missing header terminator", ErrInvalidFrame)
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headerEnd]), "\r\n", "\n"), "\n")
	frame := Frame{Command: lines[0], Headers: make(map[string]string, len(lines)-1)}
	if frame.Command == "" {
		return Frame{}, fmt.Errorf("%w: empty command", ErrInvalidFrame)
	}
	unescape := frame.Command != CommandConnect && frame.Command != CommandConnected
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("%w: header %q", ErrInvalidFrame, line)
		}
		if unescape {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return Frame{}, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return Frame{}, err
			}
		}
		// Repeated headers: the first one wins.
		if _, seen := frame.Headers[k]; !seen {
			frame.Headers[k] = v
		}
	}

	body := data[headerEnd+sepLen:]
	if raw, ok := frame.Headers["content-length"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > len(body) {
			return Frame{}, fmt.Errorf("%w: content-length %q", ErrInvalidFrame, raw)
		}
		body = body[:n]
	} else if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	frame.Body = append([]byte(nil), body...)
	return frame, nil
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("%w: dangling escape", ErrInvalidFrame)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("%w: escape \\%c", ErrInvalidFrame, s[i])
		}
	}
	return b.String(), nil
}

// parseHeartBeat reads a "cx,cy" header in milliseconds.
func parseHeartBeat(v string) (int, int) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return x, y
}
