package dccex

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Response heads that affect programming state. Every other head is
// informational.
const (
	HeadReadResponse  = "v"
	HeadWriteResponse = "r"
)

// Message errors.
var (
	ErrNotFramed    = errors.New("message not framed by angle brackets")
	ErrEmptyMessage = errors.New("empty message")
)

// Message is one parsed <...> frame: the head and its raw fields.
type Message struct {
	Head   string
	Fields []string
}

// ParseMessage splits a framed message into its head and fields.
func ParseMessage(raw string) (Message, error) {
	if len(raw) < 2 || raw[0] != frameOpen || raw[len(raw)-1] != frameClose {
		return Message{}, fmt.Errorf("%w: %q", ErrNotFramed, raw)
	}

	parts := strings.Fields(raw[1 : len(raw)-1])
	if len(parts) == 0 {
		return Message{}, ErrEmptyMessage
	}

	return Message{Head: parts[0], Fields: parts[1:]}, nil
}

// Token is the id|sub correlation pair a tagged request carries and the
// station echoes back in its response.
type Token struct {
	ID  int
	Sub int
}

// CVResponse is a decoded read or write response.
//
// Tagged reports whether the station echoed an id|sub|cv correlation
// token; untagged responses identify themselves by CV number only.
// A negative Value denotes protocol-level failure of the operation.
type CVResponse struct {
	Write  bool
	CV     int
	Value  int
	Tagged bool
	Token  Token
}

// Failed reports whether the response denotes a failed operation.
func (r CVResponse) Failed() bool {
	return r.Value < 0
}

// ParseCVResponse interprets a read (<v ...>) or write (<r ...>)
// response. ok is false for any other head and for responses whose
// fields do not parse; those are informational and carry no CV state.
func ParseCVResponse(msg Message) (resp CVResponse, ok bool) {
	switch msg.Head {
	case HeadReadResponse:
		resp.Write = false
	case HeadWriteResponse:
		resp.Write = true
	default:
		return CVResponse{}, false
	}

	if len(msg.Fields) < 2 {
		return CVResponse{}, false
	}

	// field1: either a bare CV number or an id|sub|cv token.
	if strings.ContainsRune(msg.Fields[0], '|') {
		parts := strings.Split(msg.Fields[0], "|")
		if len(parts) != 3 {
			return CVResponse{}, false
		}
		id, err1 := strconv.Atoi(parts[0])
		sub, err2 := strconv.Atoi(parts[1])
		cv, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return CVResponse{}, false
		}
		resp.Tagged = true
		resp.Token = Token{ID: id, Sub: sub}
		resp.CV = cv
	} else {
		cv, err := strconv.Atoi(msg.Fields[0])
		if err != nil {
			return CVResponse{}, false
		}
		resp.CV = cv
	}

	value, err := strconv.Atoi(msg.Fields[1])
	if err != nil {
		return CVResponse{}, false
	}
	resp.Value = value

	return resp, true
}

// FormatRead formats an untagged service-mode read request.
func FormatRead(cv int) string {
	return fmt.Sprintf("<R %d>", cv)
}

// FormatReadTagged formats a read request carrying a correlation token.
func FormatReadTagged(cv int, tok Token) string {
	return fmt.Sprintf("<R %d %d %d>", cv, tok.ID, tok.Sub)
}

// FormatWrite formats an untagged service-mode write request.
func FormatWrite(cv int, value byte) string {
	return fmt.Sprintf("<W %d %d>", cv, value)
}

// FormatWriteTagged formats a write request carrying a correlation token.
func FormatWriteTagged(cv int, value byte, tok Token) string {
	return fmt.Sprintf("<W %d %d %d %d>", cv, value, tok.ID, tok.Sub)
}
