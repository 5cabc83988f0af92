// Package collateral retrieves quote verification collateral from the Intel
// Provisioning Certification Service (PCS) or a caching service (PCCS)
// exposing the same API.
package collateral

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quotekit/quotectl/verification/types"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single collateral retrieval, covering both the TCB
// Info and the QE Identity requests.
const DefaultTimeout = 60 * time.Second

const (
	pcsBaseURL = "https://api.trustedservices.intel.com/tdx/certification/v4"

	tcbInfoPath    = "tcb"
	qeIdentityPath = "qe/identity"

	tcbInfoIssuerChainHeader    = "Tcb-Info-Issuer-Chain"
	qeIdentityIssuerChainHeader = "Sgx-Enclave-Identity-Issuer-Chain"
)

// Source selects the service collateral is retrieved from. The zero value
// selects the Intel PCS.
type Source struct {
	custom string
}

// Resolve returns the Source for a configured service URL. An empty string
// selects the Intel PCS, anything else is used as the base URL of a custom
// caching service.
func Resolve(configured string) Source {
	return Source{custom: configured}
}

// Custom returns a Source for a caching service at the given base URL.
func Custom(baseURL string) Source {
	return Source{custom: baseURL}
}

// IsPCS reports whether the source is the Intel PCS.
func (s Source) IsPCS() bool {
	return s.custom == ""
}

// String returns "PCS" for the Intel PCS, or the configured base URL.
func (s Source) String() string {
	if s.IsPCS() {
		return "PCS"
	}
	return s.custom
}

func (s Source) baseURL() (*url.URL, error) {
	raw := pcsBaseURL
	if !s.IsPCS() {
		raw = s.custom
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing collateral service URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("collateral service URL %q must use http or https", raw)
	}
	return base, nil
}

// Collateral is the verification collateral for a quote: the signed TCB Info
// and QE Identity documents, their detached signatures, and the certificate
// chains of the respective signers.
type Collateral struct {
	TCBInfoIssuerChain    string
	TCBInfo               json.RawMessage
	TCBInfoSignature      []byte
	QEIdentityIssuerChain string
	QEIdentity            json.RawMessage
	QEIdentitySignature   []byte
}

// collateralAPI performs the HTTP requests of a Client. It exists so tests
// can stub out the collateral service.
type collateralAPI interface {
	getWithIssuerChain(ctx context.Context, uri string, chainHeader string) (body []byte, issuerChain string, err error)
}

// Client retrieves collateral from a single Source.
type Client struct {
	api     collateralAPI
	source  Source
	timeout time.Duration
	diag    io.Writer
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the retrieval timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDiagnostics sets the writer status lines are printed to.
func WithDiagnostics(w io.Writer) Option {
	return func(c *Client) { c.diag = w }
}

// WithLogger sets the logger used for request level diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client retrieving collateral from the given source.
func New(source Source, opts ...Option) *Client {
	c := &Client{
		api:     &httpAPI{client: &http.Client{}},
		source:  source,
		timeout: DefaultTimeout,
		diag:    io.Discard,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves the collateral matching the given quote. The quote is parsed
// to extract the FMSPC its TCB Info is selected by.
func (c *Client) Get(ctx context.Context, rawQuote []byte) (Collateral, error) {
	if c.source.IsPCS() {
		fmt.Fprintln(c.diag, "Getting collateral from PCS...")
	} else {
		fmt.Fprintf(c.diag, "Getting collateral from %s\n", c.source)
	}

	fmspc, err := FMSPCFromQuote(rawQuote)
	if err != nil {
		return Collateral{}, fmt.Errorf("extracting FMSPC from quote: %w", err)
	}

	base, err := c.source.baseURL()
	if err != nil {
		return Collateral{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tcbInfoURI := base.JoinPath(tcbInfoPath)
	tcbInfoURI.RawQuery = url.Values{"fmspc": []string{hex.EncodeToString(fmspc[:])}}.Encode()
	c.log.Debug("requesting TCB Info", zap.String("url", tcbInfoURI.String()))
	tcbInfoBody, tcbInfoChain, err := c.api.getWithIssuerChain(ctx, tcbInfoURI.String(), tcbInfoIssuerChainHeader)
	if err != nil {
		return Collateral{}, fmt.Errorf("retrieving TCB Info: %w", err)
	}
	tcbInfo, tcbInfoSig, err := splitSignedDocument(tcbInfoBody, "tcbInfo")
	if err != nil {
		return Collateral{}, fmt.Errorf("retrieving TCB Info: %w", err)
	}

	qeIdentityURI := base.JoinPath(qeIdentityPath)
	c.log.Debug("requesting QE Identity", zap.String("url", qeIdentityURI.String()))
	qeIdentityBody, qeIdentityChain, err := c.api.getWithIssuerChain(ctx, qeIdentityURI.String(), qeIdentityIssuerChainHeader)
	if err != nil {
		return Collateral{}, fmt.Errorf("retrieving QE Identity: %w", err)
	}
	qeIdentity, qeIdentitySig, err := splitSignedDocument(qeIdentityBody, "enclaveIdentity")
	if err != nil {
		return Collateral{}, fmt.Errorf("retrieving QE Identity: %w", err)
	}

	return Collateral{
		TCBInfoIssuerChain:    tcbInfoChain,
		TCBInfo:               tcbInfo,
		TCBInfoSignature:      tcbInfoSig,
		QEIdentityIssuerChain: qeIdentityChain,
		QEIdentity:            qeIdentity,
		QEIdentitySignature:   qeIdentitySig,
	}, nil
}

// FMSPCFromQuote parses a raw quote and extracts the FMSPC from the SGX
// extension of its PCK certificate.
func FMSPCFromQuote(rawQuote []byte) ([6]byte, error) {
	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return [6]byte{}, fmt.Errorf("parsing quote: %w", err)
	}
	certChain, err := types.PCKCertChain(quote)
	if err != nil {
		return [6]byte{}, err
	}
	ext, err := types.ParsePCKSGXExtensions(certChain[0])
	if err != nil {
		return [6]byte{}, fmt.Errorf("parsing SGX extensions of PCK certificate: %w", err)
	}
	return ext.FMSPC, nil
}

// splitSignedDocument splits a signed PCS document of the form
// {"<key>": {...}, "signature": "<hex>"} into the raw signed body and the
// decoded signature. The body is kept byte for byte as served, since the
// signature covers the exact serialization.
func splitSignedDocument(body []byte, key string) (json.RawMessage, []byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling signed document: %w", err)
	}
	payload, ok := doc[key]
	if !ok {
		return nil, nil, fmt.Errorf("signed document is missing %q", key)
	}
	var sigHex string
	if err := json.Unmarshal(doc["signature"], &sigHex); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling document signature: %w", err)
	}
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding document signature: %w", err)
	}
	return payload, signature, nil
}

// httpAPI is the http implementation of collateralAPI.
type httpAPI struct {
	client *http.Client
}

func (h *httpAPI) getWithIssuerChain(ctx context.Context, uri string, chainHeader string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: unexpected status %q", uri, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading response body: %w", err)
	}

	escapedChain := resp.Header.Get(chainHeader)
	if escapedChain == "" {
		return nil, "", fmt.Errorf("response is missing the %s header", chainHeader)
	}
	issuerChain, err := url.QueryUnescape(escapedChain)
	if err != nil {
		return nil, "", fmt.Errorf("unescaping the %s header: %w", chainHeader, err)
	}

	return body, issuerChain, nil
}
