package torctl

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
)

const (
	// success is the Tor Control response code representing a successful
	// request.
	success = 250

	// asyncEvent is the response code of every asynchronous event
	// notification.
	asyncEvent = 650
)

var (
	// errCodeNotMatch is used when an expected response code is not
	// returned.
	errCodeNotMatch = errors.New("unexpected code")

	// replyFieldRegexp is the regular expression used to find fields in a
	// reply. Parameters within a reply should be of the form KEY=VALUE or
	// KEY="VALUE", where quoted values might contain spaces, newlines and
	// quoted pairs.
	replyFieldRegexp = regexp.MustCompile(
		`[^" \r\n]+=(?:"(?:[^"\\]|\\[\0-\x7F])*"|[^" \r\n]*)`,
	)
)

// ReplyError is returned when the router answers a command with a status
// other than 250.
type ReplyError struct {
	// Code is the status code of the final reply line.
	Code int

	// Reply is the reply text.
	Reply string
}

// Error implements the error interface.
func (e *ReplyError) Error() string {
	return fmt.Sprintf("%v %d: %s", errCodeNotMatch, e.Code, e.Reply)
}

// Unwrap allows errors.Is checks against errCodeNotMatch.
func (e *ReplyError) Unwrap() error {
	return errCodeNotMatch
}

// reply is a single complete reply read from the control connection.
type reply struct {
	// code is the status code of the reply. All lines of a reply share
	// the same code.
	code int

	// lines holds the text of every reply line without its status code
	// and separator.
	lines []string

	// data holds the data blocks of "+" lines keyed by the text before
	// the "=" of the introducing line.
	data map[string][]string
}

// text joins the reply lines the same way they were sent.
func (r *reply) text() string {
	return strings.Join(r.lines, "\n")
}

// readReply reads the next reply from the connection. A reply has the
// following format,
//
//	Reply = SyncReply / AsyncReply
//	SyncReply = *(MidReplyLine / DataReplyLine) EndReplyLine
//	AsyncReply = *(MidReplyLine / DataReplyLine) EndReplyLine
//
//	MidReplyLine = StatusCode "-" ReplyLine
//	DataReplyLine = StatusCode "+" ReplyLine CmdData
//	EndReplyLine = StatusCode SP ReplyLine
//	ReplyLine = [ReplyText] CRLF
//	StatusCode = 3DIGIT
func readReply(r *textproto.Reader) (*reply, error) {
	resp := &reply{
		data: make(map[string][]string),
	}

	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		log.Tracef("Reading line: %v", line)

		// Line being shorter than 4 is not allowed.
		if len(line) < 4 {
			return nil, textproto.ProtocolError("short line: " +
				line)
		}

		code, err := strconv.Atoi(line[0:3])
		if err != nil {
			return nil, textproto.ProtocolError("invalid code: " +
				line)
		}
		resp.code = code

		text := line[4:]
		resp.lines = append(resp.lines, text)

		switch line[3] {
		// EndReplyLine, e.g. "250 OK".
		case ' ':
			return resp, nil

		// MidReplyLine, e.g. "250-version=0.4.8.9".
		case '-':

		// DataReplyLine, e.g. "250+ns/all=" followed by the data lines
		// and a terminating ".".
		case '+':
			lines, err := r.ReadDotLines()
			if err != nil {
				return nil, err
			}

			key, _, _ := strings.Cut(text, "=")
			resp.data[key] = lines

		default:
			return nil, textproto.ProtocolError("invalid line: " +
				line)
		}
	}
}

// unescapeValue removes escape codes from the value in the Tor reply. A
// backslash followed by any character represents that character.
func unescapeValue(value string) string {
	var b strings.Builder
	justRemovedBackslash := false

	for _, char := range value {
		if char == '\\' && !justRemovedBackslash {
			justRemovedBackslash = true
			continue
		}

		b.WriteRune(char)
		justRemovedBackslash = false
	}

	return b.String()
}

// parseTorReply parses the KEY=VALUE and KEY="VALUE" parameters of a reply
// into a map.
func parseTorReply(reply string) map[string]string {
	params := make(map[string]string)

	contents := replyFieldRegexp.FindAllString(reply, -1)
	for _, content := range contents {
		key, value, _ := strings.Cut(content, "=")

		// Quoted strings need extra processing.
		if strings.HasPrefix(value, `"`) && len(value) >= 2 {
			value = unescapeValue(value[1 : len(value)-1])
		}

		params[key] = value
	}

	return params
}

// quoteValue quotes a configuration value for SETCONF.
func quoteValue(value string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, char := range value {
		if char == '"' || char == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	b.WriteByte('"')

	return b.String()
}

// computeHMAC256 computes the HMAC-SHA256 of a key and message.
func computeHMAC256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// redactCommand hides the credentials of authentication commands in logs.
func redactCommand(cmd string) string {
	verb, _, _ := strings.Cut(cmd, " ")
	if verb == "AUTHENTICATE" {
		return verb + " <redacted>"
	}

	return cmd
}
