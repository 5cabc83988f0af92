// Package clierror defines the error type reported by the CLI. Every failure
// is classified by the stage it occurred in, and rendered with its full cause
// chain so the underlying reason is never lost.
package clierror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stage of processing an error occurred in.
type Kind string

// The stages a command can fail in.
const (
	// KindRead covers failures reading input files.
	KindRead Kind = "read"
	// KindDecode covers failures decoding hex encoded input.
	KindDecode Kind = "decode"
	// KindParse covers failures parsing a binary quote.
	KindParse Kind = "parse"
	// KindRetrieval covers failures retrieving collateral.
	KindRetrieval Kind = "retrieval"
	// KindVerify covers failed quote verification.
	KindVerify Kind = "verify"
)

// Error is a classified CLI error wrapping its cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err under the given kind with a context message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Render formats an error with its cause chain, one cause per line:
//
//	Error: Failed to verify quote
//
//	Caused by:
//	    verifying TCB Info: document is expired
//
// Each cause line drops the text repeated by the level below it, so the chain
// reads top down without duplication.
func Render(err error) string {
	chain := causeChain(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s", chain[0])
	if len(chain) > 1 {
		sb.WriteString("\n\nCaused by:")
		for _, cause := range chain[1:] {
			fmt.Fprintf(&sb, "\n    %s", cause)
		}
	}
	return sb.String()
}

// causeChain walks the Unwrap chain and returns the contribution of each
// level. Wrapping with fmt.Errorf repeats the cause as a message suffix, so
// each level is trimmed against its child to avoid printing text twice.
func causeChain(err error) []string {
	var msgs []string
	for ; err != nil; err = errors.Unwrap(err) {
		msgs = append(msgs, err.Error())
	}

	chain := make([]string, 0, len(msgs))
	for i, msg := range msgs {
		if i+1 < len(msgs) {
			if trimmed, found := strings.CutSuffix(msg, ": "+msgs[i+1]); found {
				msg = trimmed
			} else if msg == msgs[i+1] {
				continue
			}
		}
		chain = append(chain, msg)
	}
	return chain
}
