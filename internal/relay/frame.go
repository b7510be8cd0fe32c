package relay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// STOMP 1.2 frame codec. The relay is a Spring STOMP broker; frames travel
// as websocket text messages, one frame per message, NUL-terminated.

type frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSend        = "SEND"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdDisconnect  = "DISCONNECT"
	cmdMessage     = "MESSAGE"
	cmdError       = "ERROR"
)

// escapeHeader applies STOMP 1.2 header value escaping.
func escapeHeader(v string) string {
	r := strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	return r.Replace(v)
}

func unescapeHeader(v string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		i++
		if i >= len(v) {
			return "", fmt.Errorf("stomp: dangling escape in header %q", v)
		}
		switch v[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("stomp: bad escape \\%c in header %q", v[i], v)
		}
	}
	return b.String(), nil
}

// marshalFrame renders f as a NUL-terminated STOMP frame. A content-length
// header is always emitted so bodies containing NUL survive.
func marshalFrame(f *frame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for k, v := range f.Headers {
		b.WriteString(escapeHeader(k))
		b.WriteByte(':')
		b.WriteString(escapeHeader(v))
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// parseFrame decodes one frame from raw. Bare EOL (heart-beat) input yields
// a nil frame and no error.
func parseFrame(raw []byte) (*frame, error) {
	raw = bytes.TrimLeft(raw, "\r\n")
	if len(raw) == 0 {
		return nil, nil // heart-beat
	}

	head, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("stomp: frame without header terminator")
	}
	body = bytes.TrimSuffix(body, []byte{0})

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	f := &frame{Command: lines[0], Headers: make(map[string]string)}
	if f.Command == "" {
		return nil, fmt.Errorf("stomp: empty command")
	}
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header line %q", line)
		}
		key, err := unescapeHeader(k)
		if err != nil {
			return nil, err
		}
		val, err := unescapeHeader(v)
		if err != nil {
			return nil, err
		}
		// First occurrence wins, per the STOMP spec.
		if _, dup := f.Headers[key]; !dup {
			f.Headers[key] = val
		}
	}

	if cl, ok := f.Headers["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		body = body[:n]
	}
	f.Body = body
	return f, nil
}
