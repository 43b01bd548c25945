package at

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrMalformedStatus is returned by ParseStatus for a line that starts like
// a status line but has no name/payload separator.
var ErrMalformedStatus = errors.New("malformed status line")

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Lines are terminated by LF with an optional CR before it, which covers
// both CRLF framing and the bare LF some firmware builds emit after a
// payload upload. A payload prompt (">", optionally followed by a space) is
// returned as soon as it appears at the start of a token because the modem
// sends it without a line terminator and then waits for data.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match payload prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		n := len(Prompt)
		if len(data) > n && data[n] == ' ' {
			n++
		}
		return n, data[0:len(Prompt)], nil
	}

	// 2. Match line ending
	if i := bytes.IndexByte(data, LF); i >= 0 {
		return i + 1, bytes.TrimRight(data[0:i], "\r"), nil
	}

	if atEOF {
		return len(data), bytes.TrimRight(data, "\r"), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Decode turns a raw token into text. Invalid UTF-8 sequences are dropped
// rather than rejected; lossy reports whether anything was dropped.
// Surrounding whitespace, including stray CR bytes, is trimmed.
func Decode(raw []byte) (line string, lossy bool) {
	if utf8.Valid(raw) {
		return strings.TrimSpace(string(raw)), false
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "")), true
}

// Classify identifies the nature of a decoded modem line.
//
// Status lines are checked first so that a payload carrying "OK" or ">"
// (for example inside +QMTRECV) is never mistaken for a completion or a
// prompt. +CME/+CMS ERROR lines are final responses despite their prefix.
func Classify(line string) ResponseType {
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, StatusPrefix) && strings.Contains(line, StatusSeparator):
		return TypeStatus
	case strings.Contains(line, BootROM) || line == BootReady:
		return TypeBoot
	}

	for _, f := range strings.Fields(line) {
		if f == OK || f == ERROR {
			return TypeFinal
		}
	}

	if strings.HasPrefix(line, Prompt) {
		return TypePrompt
	}
	return TypeUnrecognized
}

// IsSuccess reports whether a final response line signals success.
func IsSuccess(line string) bool {
	if strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError) {
		return false
	}
	for _, f := range strings.Fields(line) {
		if f == ERROR {
			return false
		}
	}
	return true
}

// ParseStatus splits "+NAME: payload" into its name and payload. The name
// is returned without the prefix and surrounding whitespace, the payload is
// returned with surrounding whitespace trimmed.
func ParseStatus(line string) (name, payload string, err error) {
	if !strings.HasPrefix(line, StatusPrefix) {
		return "", "", ErrMalformedStatus
	}
	head, tail, ok := strings.Cut(line, StatusSeparator)
	if !ok {
		return "", "", ErrMalformedStatus
	}
	name = strings.TrimSpace(strings.TrimPrefix(head, StatusPrefix))
	if name == "" {
		return "", "", ErrMalformedStatus
	}
	return name, strings.TrimSpace(tail), nil
}
