package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter tokenizes module output by CRLF line endings. It has the
// signature of bufio.SplitFunc so it can be used with bufio.Scanner, and
// the Client calls it directly on its accumulation buffer.
//
// Echo is expected to be off (ATE0). With echo on, the command line shows
// up as an extra data token in the response.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of a module output line.
func Classify(line string) ResponseType {
	switch line {
	case OK, ERROR:
		return TypeFinal
	case UrcStartup:
		return TypeURC
	}

	switch {
	case strings.HasPrefix(line, CmeError):
		return TypeFinal
	case strings.HasPrefix(line, "+UU"):
		return TypeURC
	default:
		return TypeData
	}
}
