package collateral

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/quotekit/quotectl/internal/quotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestResolveSource(t *testing.T) {
	testCases := map[string]struct {
		configured string
		wantPCS    bool
		wantString string
	}{
		"empty selects PCS":  {configured: "", wantPCS: true, wantString: "PCS"},
		"url selects custom": {configured: "https://pccs.example:8081/sgx/certification/v4", wantPCS: false, wantString: "https://pccs.example:8081/sgx/certification/v4"},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			source := Resolve(tc.configured)
			assert.Equal(t, tc.wantPCS, source.IsPCS())
			assert.Equal(t, tc.wantString, source.String())
		})
	}
}

func TestSourceBaseURL(t *testing.T) {
	t.Run("pcs", func(t *testing.T) {
		base, err := Source{}.baseURL()
		require.NoError(t, err)
		assert.Equal(t, "https://api.trustedservices.intel.com/tdx/certification/v4", base.String())
	})
	t.Run("custom", func(t *testing.T) {
		base, err := Custom("http://localhost:8081/sgx/certification/v4").baseURL()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8081/sgx/certification/v4", base.String())
	})
	t.Run("invalid scheme", func(t *testing.T) {
		_, err := Custom("ftp://localhost").baseURL()
		assert.Error(t, err)
	})
}

// fakeAPI serves canned collateral documents and records the requested URIs.
type fakeAPI struct {
	tcbInfoBody    []byte
	qeIdentityBody []byte
	issuerChain    string
	err            error

	requestedURIs []string
}

func (f *fakeAPI) getWithIssuerChain(_ context.Context, uri string, _ string) ([]byte, string, error) {
	f.requestedURIs = append(f.requestedURIs, uri)
	if f.err != nil {
		return nil, "", f.err
	}
	if strings.Contains(uri, "/tcb") {
		return f.tcbInfoBody, f.issuerChain, nil
	}
	return f.qeIdentityBody, f.issuerChain, nil
}

func TestGetCollateral(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	forge := quotetest.New(t)
	parts := forge.Collateral()

	api := &fakeAPI{
		tcbInfoBody:    quotetest.WrapSigned("tcbInfo", parts.TCBInfo, parts.TCBInfoSignature),
		qeIdentityBody: quotetest.WrapSigned("enclaveIdentity", parts.QEIdentity, parts.QEIdentitySignature),
		issuerChain:    parts.TCBInfoIssuerChain,
	}
	diag := &bytes.Buffer{}
	client := New(Source{}, WithDiagnostics(diag))
	client.api = api

	coll, err := client.Get(context.Background(), forge.Quote())
	require.NoError(err)

	assert.Equal(parts.TCBInfoIssuerChain, coll.TCBInfoIssuerChain)
	assert.JSONEq(string(parts.TCBInfo), string(coll.TCBInfo))
	assert.Equal(parts.TCBInfoSignature, coll.TCBInfoSignature)
	assert.Equal(parts.QEIdentityIssuerChain, coll.QEIdentityIssuerChain)
	assert.JSONEq(string(parts.QEIdentity), string(coll.QEIdentity))
	assert.Equal(parts.QEIdentitySignature, coll.QEIdentitySignature)

	assert.Equal("Getting collateral from PCS...\n", diag.String())

	require.Len(api.requestedURIs, 2)
	tcbInfoURI, err := url.Parse(api.requestedURIs[0])
	require.NoError(err)
	assert.Equal("api.trustedservices.intel.com", tcbInfoURI.Host)
	assert.Equal("/tdx/certification/v4/tcb", tcbInfoURI.Path)
	assert.Equal(hex.EncodeToString(quotetest.FMSPC[:]), tcbInfoURI.Query().Get("fmspc"))
	assert.Equal("https://api.trustedservices.intel.com/tdx/certification/v4/qe/identity", api.requestedURIs[1])
}

func TestGetCollateralCustomSource(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	forge := quotetest.New(t)
	parts := forge.Collateral()

	api := &fakeAPI{
		tcbInfoBody:    quotetest.WrapSigned("tcbInfo", parts.TCBInfo, parts.TCBInfoSignature),
		qeIdentityBody: quotetest.WrapSigned("enclaveIdentity", parts.QEIdentity, parts.QEIdentitySignature),
		issuerChain:    parts.TCBInfoIssuerChain,
	}
	diag := &bytes.Buffer{}
	client := New(Custom("http://localhost:8081/tdx/certification/v4"), WithDiagnostics(diag))
	client.api = api

	_, err := client.Get(context.Background(), forge.Quote())
	require.NoError(err)

	assert.Equal("Getting collateral from http://localhost:8081/tdx/certification/v4\n", diag.String())
	require.Len(api.requestedURIs, 2)
	assert.True(strings.HasPrefix(api.requestedURIs[0], "http://localhost:8081/tdx/certification/v4/tcb?"), api.requestedURIs[0])
}

func TestGetCollateralErrors(t *testing.T) {
	forge := quotetest.New(t)
	parts := forge.Collateral()

	testCases := map[string]struct {
		api      *fakeAPI
		rawQuote []byte
	}{
		"invalid quote": {
			api:      &fakeAPI{},
			rawQuote: []byte{0x01, 0x02, 0x03},
		},
		"request error": {
			api:      &fakeAPI{err: assert.AnError},
			rawQuote: forge.Quote(),
		},
		"malformed signed document": {
			api: &fakeAPI{
				tcbInfoBody: []byte("not json"),
				issuerChain: parts.TCBInfoIssuerChain,
			},
			rawQuote: forge.Quote(),
		},
		"missing document key": {
			api: &fakeAPI{
				tcbInfoBody: []byte(`{"somethingElse":{},"signature":"abcd"}`),
				issuerChain: parts.TCBInfoIssuerChain,
			},
			rawQuote: forge.Quote(),
		},
		"invalid signature hex": {
			api: &fakeAPI{
				tcbInfoBody: []byte(`{"tcbInfo":{},"signature":"not hex"}`),
				issuerChain: parts.TCBInfoIssuerChain,
			},
			rawQuote: forge.Quote(),
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			client := New(Source{})
			client.api = tc.api
			_, err := client.Get(context.Background(), tc.rawQuote)
			assert.Error(t, err)
		})
	}
}

func TestGetCollateralTimeout(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	forge := quotetest.New(t)
	client := New(Custom(server.URL), WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.Get(context.Background(), forge.Quote())
	require.Error(err)
	require.Less(time.Since(start), 5*time.Second)
	require.ErrorIs(err, context.DeadlineExceeded)
}

func TestHTTPAPIResponses(t *testing.T) {
	testCases := map[string]struct {
		handler http.HandlerFunc
		wantErr bool
	}{
		"missing issuer chain header": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{}"))
			},
			wantErr: true,
		},
		"unexpected status": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr: true,
		},
		"valid response": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set(tcbInfoIssuerChainHeader, url.QueryEscape("-----BEGIN CERTIFICATE-----"))
				_, _ = w.Write([]byte("{}"))
			},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			api := &httpAPI{client: server.Client()}
			body, issuerChain, err := api.getWithIssuerChain(context.Background(), server.URL, tcbInfoIssuerChainHeader)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []byte("{}"), body)
			assert.Equal(t, "-----BEGIN CERTIFICATE-----", issuerChain)
		})
	}
}

func TestFMSPCFromQuote(t *testing.T) {
	forge := quotetest.New(t)

	fmspc, err := FMSPCFromQuote(forge.Quote())
	require.NoError(t, err)
	assert.Equal(t, quotetest.FMSPC, fmspc)

	_, err = FMSPCFromQuote([]byte("garbage"))
	assert.Error(t, err)
}

func TestCollateralJSONRoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	coll := Collateral{
		TCBInfoIssuerChain:    "chain A",
		TCBInfo:               json.RawMessage(`{"id":"TDX"}`),
		TCBInfoSignature:      []byte{0x01, 0x02},
		QEIdentityIssuerChain: "chain B",
		QEIdentity:            json.RawMessage(`{"id":"TD_QE"}`),
		QEIdentitySignature:   []byte{0x03, 0x04},
	}

	out, err := json.Marshal(coll)
	require.NoError(err)

	var exported map[string]any
	require.NoError(json.Unmarshal(out, &exported))
	assert.Equal("0102", exported["tcb_info_signature"])
	assert.Equal("0304", exported["qe_identity_signature"])
	assert.Equal(`{"id":"TDX"}`, exported["tcb_info"])

	var roundTripped Collateral
	require.NoError(json.Unmarshal(out, &roundTripped))
	assert.Equal(coll, roundTripped)
}

func TestCollateralString(t *testing.T) {
	assert := assert.New(t)

	coll := Collateral{
		TCBInfoIssuerChain:    "chain A",
		TCBInfo:               json.RawMessage(`{"id":"TDX"}`),
		TCBInfoSignature:      []byte{0xab, 0xcd, 0xef},
		QEIdentityIssuerChain: "chain B",
		QEIdentity:            json.RawMessage(`{"id":"TD_QE"}`),
		QEIdentitySignature:   []byte{0x12, 0x34},
	}

	rendered := fmt.Sprintf("%+v", coll)
	assert.Contains(rendered, `TCBInfo:{"id":"TDX"}`)
	assert.Contains(rendered, "TCBInfoSignature:abcdef")
	assert.Contains(rendered, "QEIdentitySignature:1234")
	assert.NotContains(rendered, "[171 205 239]")
}
