// Package quotefile reads quote files from disk, optionally normalizing and
// decoding a hex encoded representation.
package quotefile

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/quotekit/quotectl/internal/clierror"
)

// Read reads the quote file at path. With isHex set the content is treated as
// a hex encoded quote: a single leading "0x" and a single trailing newline are
// stripped before decoding.
func Read(path string, isHex bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, clierror.Wrap(clierror.KindRead, "Failed to read quote file", err)
	}
	if !isHex {
		return data, nil
	}

	quote, err := Normalize(data)
	if err != nil {
		return nil, clierror.Wrap(clierror.KindDecode, "Failed to decode hex", err)
	}
	return quote, nil
}

// Normalize decodes a hex encoded quote. Exactly one leading "0x" prefix and
// exactly one trailing newline are removed if present. Any other stray
// character makes the hex decoding fail.
func Normalize(data []byte) ([]byte, error) {
	s := string(data)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimSuffix(s, "\n")

	quote, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex encoded quote: %w", err)
	}
	return quote, nil
}
