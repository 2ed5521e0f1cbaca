// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the text protocol carried on the agent topic.
//
// Inbound payloads starting with CommandPrefix carry a shell command. Results
// travel back on the same topic prefixed with OutputPrefix. Any other payload
// belongs to somebody else and is ignored.
package protocol

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	CommandPrefix = "COMMAND/"
	OutputPrefix  = "OUTPUT/"
)

// ErrMalformedCommand is returned in strict mode for a payload that carries
// the command prefix but whose command text is not valid UTF-8.
var ErrMalformedCommand = errors.New("malformed command payload")

// ParseCommand extracts the command text from payload.
// ok is false when payload does not carry the command prefix.
// Invalid UTF-8 in the command text is replaced with U+FFFD unless strict
// is set, in which case ErrMalformedCommand is returned.
func ParseCommand(payload []byte, strict bool) (cmd string, ok bool, err error) {
	rest, found := bytes.CutPrefix(payload, []byte(CommandPrefix))
	if !found {
		return "", false, nil
	}
	if utf8.Valid(rest) {
		return string(rest), true, nil
	}
	if strict {
		return "", true, ErrMalformedCommand
	}
	return strings.ToValidUTF8(string(rest), string(utf8.RuneError)), true, nil
}

// FormatOutput builds an output payload from command output text.
func FormatOutput(text string) []byte {
	buf := make([]byte, 0, len(OutputPrefix)+len(text))
	buf = append(buf, OutputPrefix...)
	return append(buf, text...)
}
