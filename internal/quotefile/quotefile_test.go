package quotefile

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/quotekit/quotectl/internal/clierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x42}
	encoded := hex.EncodeToString(raw)

	testCases := map[string]struct {
		input   string
		want    []byte
		wantErr bool
	}{
		"plain hex":                    {input: encoded, want: raw},
		"0x prefix":                    {input: "0x" + encoded, want: raw},
		"trailing newline":             {input: encoded + "\n", want: raw},
		"0x prefix and newline":        {input: "0x" + encoded + "\n", want: raw},
		"empty input":                  {input: "", want: []byte{}},
		"only prefix and newline":      {input: "0x\n", want: []byte{}},
		"odd length":                   {input: encoded[:len(encoded)-1], wantErr: true},
		"non hex character":            {input: "zz" + encoded, wantErr: true},
		"second prefix is not hex":     {input: "0x0x" + encoded, wantErr: true},
		"inner newline is not decoded": {input: encoded + "\n\n", wantErr: true},
		"uppercase hex":                {input: "DEADBEEF0042", want: raw},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := Normalize([]byte(tc.input))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRead(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0xff}

	t.Run("raw file returned unchanged", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quote.bin")
		require.NoError(t, os.WriteFile(path, raw, 0o644))

		got, err := Read(path, false)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("hex file decoded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quote.hex")
		require.NoError(t, os.WriteFile(path, []byte("0x"+hex.EncodeToString(raw)+"\n"), 0o644))

		got, err := Read(path, true)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("hex flag on raw file fails with decode error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quote.bin")
		require.NoError(t, os.WriteFile(path, raw, 0o644))

		_, err := Read(path, true)
		var cliErr *clierror.Error
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, clierror.KindDecode, cliErr.Kind)
	})

	t.Run("missing file fails with read error", func(t *testing.T) {
		_, err := Read(filepath.Join(t.TempDir(), "does-not-exist"), false)
		var cliErr *clierror.Error
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, clierror.KindRead, cliErr.Kind)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func FuzzNormalizeRoundTrip(f *testing.F) {
	f.Add([]byte{0xde, 0xad, 0xbe, 0xef}, false, false)
	f.Add([]byte{}, true, true)
	f.Fuzz(func(t *testing.T, raw []byte, prefix bool, newline bool) {
		input := hex.EncodeToString(raw)
		if prefix {
			input = "0x" + input
		}
		if newline {
			input += "\n"
		}

		got, err := Normalize([]byte(input))
		require.NoError(t, err)
		require.Equal(t, raw, got)
	})
}
