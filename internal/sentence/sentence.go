// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sentence decodes NMEA-0183 lines from both devices. It wraps the
// go-nmea parser with the acoustic receiver's RTH sentence registered and
// classifies failures so callers can tell line noise from real faults.
package sentence

import (
	"errors"
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/usbl_relay/internal/usbl"
)

// Kind classifies a parse failure.
type Kind int

const (
	KindNone Kind = iota
	KindChecksum
	KindUnknownType
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindChecksum:
		return "checksum"
	case KindUnknownType:
		return "unknown_type"
	case KindMalformed:
		return "malformed"
	default:
		return "none"
	}
}

// ParseError is returned by Parse for every line it rejects.
type ParseError struct {
	Kind   Kind
	Prefix string
	// Expected and Actual are set for fixed-arity types with the wrong
	// number of fields.
	Expected int
	Actual   int
	Err      error
}

func (e *ParseError) Error() string {
	if e.Expected != 0 {
		return fmt.Sprintf("sentence: %s %s: expected %d fields, got %d", e.Kind, e.Prefix, e.Expected, e.Actual)
	}
	if e.Prefix == "" {
		return fmt.Sprintf("sentence: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sentence: %s %s: %v", e.Kind, e.Prefix, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// KindOf returns the Kind of a ParseError anywhere in err's chain, or
// KindNone.
func KindOf(err error) Kind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNone
}

// customParsers is the table of vendor sentence types recognized on top of
// the go-nmea built-ins, keyed by the three-letter type code.
var customParsers = map[string]nmea.ParserFunc{
	usbl.TypeRTH: usbl.ParseRTH,
}

var parser = nmea.SentenceParser{CustomParsers: customParsers}

// Parse decodes one line. The line may still carry its terminator.
func Parse(line string) (nmea.Sentence, error) {
	line = strings.TrimSpace(line)
	if line == "" || (line[0] != '$' && line[0] != '!') {
		return nil, &ParseError{Kind: KindMalformed, Err: errors.New("missing sentence start")}
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nil, &ParseError{Kind: KindMalformed, Prefix: prefixOf(line), Err: errors.New("missing checksum")}
	}
	payload := line[1:star]
	got := nmea.Checksum(payload)
	if want := strings.ToUpper(line[star+1:]); want != got {
		return nil, &ParseError{
			Kind:   KindChecksum,
			Prefix: prefixOf(line),
			Err:    fmt.Errorf("checksum mismatch [%s != %s]", got, want),
		}
	}

	s, err := parser.Parse(line)
	if err != nil {
		return nil, classify(prefixOf(line), err)
	}
	return s, nil
}

func classify(prefix string, err error) error {
	var fce *usbl.FieldCountError
	if errors.As(err, &fce) {
		return &ParseError{Kind: KindMalformed, Prefix: prefix, Expected: fce.Expected, Actual: fce.Actual, Err: err}
	}
	var nse *nmea.NotSupportedError
	if errors.As(err, &nse) {
		return &ParseError{Kind: KindUnknownType, Prefix: prefix, Err: err}
	}
	return &ParseError{Kind: KindMalformed, Prefix: prefix, Err: err}
}

// prefixOf returns the talker+type token of a line starting with $ or !.
func prefixOf(line string) string {
	end := strings.IndexAny(line, ",*")
	if end == -1 {
		end = len(line)
	}
	return line[1:end]
}
