package types

import (
	"encoding/binary"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
)

// minimalQuote builds a quote prefix with a valid version 4 TDX header and the
// given signature section, so tests can target the signature parsing checks.
func minimalQuote(signature []byte) []byte {
	quote := make([]byte, signatureOffset+len(signature))
	binary.LittleEndian.PutUint16(quote[0:2], 4)
	binary.LittleEndian.PutUint32(quote[4:8], TEETypeTDX)
	binary.LittleEndian.PutUint32(quote[632:signatureOffset], uint32(len(signature)))
	copy(quote[signatureOffset:], signature)
	return quote
}

func TestParseQuoteInvalid(t *testing.T) {
	testCases := map[string][]byte{
		"empty quote":     {},
		"quote too short": make([]byte, signatureOffset-1),
		"quote too large": make([]byte, maxQuoteSize+1),
		"wrong version": func() []byte {
			quote := minimalQuote(make([]byte, 200))
			binary.LittleEndian.PutUint16(quote[0:2], 3)
			return quote
		}(),
		"wrong TEE type": func() []byte {
			quote := minimalQuote(make([]byte, 200))
			binary.LittleEndian.PutUint32(quote[4:8], TEETypeSGX)
			return quote
		}(),
		"signature length overflows": func() []byte {
			quote := minimalQuote(nil)
			binary.LittleEndian.PutUint32(quote[632:signatureOffset], 0xFFFFFFFF)
			return quote
		}(),
		"signature section too short": minimalQuote(make([]byte, 100)),
		"wrong certification data type": func() []byte {
			signature := make([]byte, 140)
			binary.LittleEndian.PutUint16(signature[128:130], 1) // not PCK_ID_QE_REPORT_CERTIFICATION_DATA
			return minimalQuote(signature)
		}(),
		"certification data size overflows": func() []byte {
			signature := make([]byte, 140)
			binary.LittleEndian.PutUint16(signature[128:130], PCK_ID_QE_REPORT_CERTIFICATION_DATA)
			binary.LittleEndian.PutUint32(signature[130:134], 0xFFFFFFFF)
			return minimalQuote(signature)
		}(),
	}

	for name, rawQuote := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseQuote(rawQuote)
			assert.Error(t, err)
		})
	}
}

func FuzzParseQuote(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)
		rawQuote, err := fuzzConsumer.GetBytes()
		if err != nil {
			return
		}
		// must never panic, regardless of input
		_, _ = ParseQuote(rawQuote)
	})
}
