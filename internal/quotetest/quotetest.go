// Package quotetest forges TDX quotes and matching verification collateral
// for tests. All cryptographic material is freshly generated: a test root CA
// stands in for the Intel SGX Root CA, a PCK chain signs the forged QE report,
// and a TCB signing certificate signs the collateral documents. A quote built
// by a Forge verifies successfully against its collateral when the verifier
// trusts the Forge's root certificate.
package quotetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/quotekit/quotectl/verification/types"
	"github.com/stretchr/testify/require"
)

// Now is the reference time at which forged certificates and collateral
// documents are valid.
var Now = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

// Fixed identity values shared between forged quotes and forged collateral.
var (
	// FMSPC identifies the forged platform.
	FMSPC = [6]byte{0x00, 0x90, 0x6e, 0xa1, 0x00, 0x00}
	// PCEID of the forged platform.
	PCEID = [2]byte{0x00, 0x00}
	// QEMRSigner is the MRSIGNER of the forged Quoting Enclave.
	QEMRSigner = [32]byte{0xab, 0xab, 0xab, 0xab}
	// TDXModuleMRSigner is the MRSIGNERSEAM of the forged TDX module.
	TDXModuleMRSigner = [48]byte{0x5e, 0xa4, 0x12}
)

const (
	// QEISVProdID is the ISV product ID of the forged Quoting Enclave.
	QEISVProdID uint16 = 2
	// QEISVSVN is the ISV SVN of the forged Quoting Enclave.
	QEISVSVN uint16 = 3
)

var qeAuthData = []byte("forged qe auth data")

// Forge holds the key material shared by all quotes and collateral it builds.
type Forge struct {
	t *testing.T

	RootCert       *x509.Certificate
	PCKCACert      *x509.Certificate
	PCKCert        *x509.Certificate
	TCBSigningCert *x509.Certificate

	rootKey       *ecdsa.PrivateKey
	pckCAKey      *ecdsa.PrivateKey
	pckKey        *ecdsa.PrivateKey
	tcbSigningKey *ecdsa.PrivateKey
	attestKey     *ecdsa.PrivateKey

	// Extensions is the SGX extension embedded in the forged PCK certificate.
	Extensions types.SGXExtensions
}

// New creates a Forge with a fresh certificate hierarchy.
func New(t *testing.T) *Forge {
	t.Helper()

	f := &Forge{t: t}

	f.rootKey = f.generateKey()
	f.pckCAKey = f.generateKey()
	f.pckKey = f.generateKey()
	f.tcbSigningKey = f.generateKey()
	f.attestKey = f.generateKey()

	f.Extensions = types.SGXExtensions{
		PPID:  [16]byte{0x11, 0x22, 0x33},
		PCEID: PCEID,
		FMSPC: FMSPC,
		TCB: types.PCKTCB{
			TCBSVN: [16]int{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
			PCESVN: 11,
			CPUSVN: [16]byte{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
		},
	}

	notBefore := Now.Add(-365 * 24 * time.Hour)
	notAfter := Now.Add(365 * 24 * time.Hour)

	f.RootCert = f.createCert(&x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Forged SGX Root CA"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, nil, &f.rootKey.PublicKey, f.rootKey)

	f.PCKCACert = f.createCert(&x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: types.PlatformIssuer},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, f.RootCert, &f.pckCAKey.PublicKey, f.rootKey)

	extensionValue, err := types.MarshalSGXExtensions(f.Extensions)
	require.NoError(t, err)
	f.PCKCert = f.createCert(&x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Forged SGX PCK Certificate"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{
			{Id: types.SGXExtensionOID, Value: extensionValue},
		},
	}, f.PCKCACert, &f.pckKey.PublicKey, f.pckCAKey)

	f.TCBSigningCert = f.createCert(&x509.Certificate{
		SerialNumber: big.NewInt(4),
		Subject:      pkix.Name{CommonName: "Forged SGX TCB Signing"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}, f.RootCert, &f.tcbSigningKey.PublicKey, f.rootKey)

	return f
}

// RootPool returns a certificate pool trusting the forged root CA.
func (f *Forge) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(f.RootCert)
	return pool
}

// Body returns the default TDReport of forged quotes. Its TCB SVNs sit one
// above the requirements of the default collateral's single TCB level.
func (f *Forge) Body() types.SGXReport2 {
	return types.SGXReport2{
		TCBSVN:         [16]byte{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
		MRSIGNERSEAM:   TDXModuleMRSigner,
		SEAMAttributes: 0,
		MRTD:           [48]byte{0xd7, 0x01},
		ReportData:     [64]byte{0x42},
	}
}

// Quote builds a raw quote over the default TDReport.
func (f *Forge) Quote() []byte {
	return f.QuoteWithBody(f.Body())
}

// QuoteWithBody builds a raw quote over the given TDReport, signed by the
// Forge's attestation key and certified through its PCK chain.
func (f *Forge) QuoteWithBody(body types.SGXReport2) []byte {
	f.t.Helper()

	header := types.SGXQuote4Header{
		Version:            4,
		AttestationKeyType: 2,
		TEEType:            types.TEETypeTDX,
		VendorID:           [16]byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07},
	}
	headerBytes := header.Marshal()
	bodyBytes := body.Marshal()

	attestPub := rawPublicKey(&f.attestKey.PublicKey)
	quoteSignature := f.sign(f.attestKey, append(headerBytes[:], bodyBytes[:]...))

	binding := sha256.Sum256(append(attestPub[:], qeAuthData...))
	qeReport := types.EnclaveReport{
		MiscSelect: 0,
		MRSIGNER:   QEMRSigner,
		ISVProdID:  QEISVProdID,
		ISVSVN:     QEISVSVN,
	}
	copy(qeReport.ReportData[:32], binding[:])
	qeReportBytes := qeReport.Marshal()
	qeReportSignature := f.sign(f.pckKey, qeReportBytes[:])

	pckChainPEM := f.pckChainPEM()

	// inner certification data: the PEM encoded PCK chain
	inner := make([]byte, 6+len(pckChainPEM))
	binary.LittleEndian.PutUint16(inner[0:2], types.PCK_ID_PCK_CERT_CHAIN)
	binary.LittleEndian.PutUint32(inner[2:6], uint32(len(pckChainPEM)))
	copy(inner[6:], pckChainPEM)

	// QE report certification data
	qeCertData := make([]byte, 0, 450+len(qeAuthData)+len(inner))
	qeCertData = append(qeCertData, qeReportBytes[:]...)
	qeCertData = append(qeCertData, qeReportSignature[:]...)
	qeCertData = binary.LittleEndian.AppendUint16(qeCertData, uint16(len(qeAuthData)))
	qeCertData = append(qeCertData, qeAuthData...)
	qeCertData = append(qeCertData, inner...)

	// quote signature section
	signature := make([]byte, 0, 134+len(qeCertData))
	signature = append(signature, quoteSignature[:]...)
	signature = append(signature, attestPub[:]...)
	signature = binary.LittleEndian.AppendUint16(signature, types.PCK_ID_QE_REPORT_CERTIFICATION_DATA)
	signature = binary.LittleEndian.AppendUint32(signature, uint32(len(qeCertData)))
	signature = append(signature, qeCertData...)

	quote := make([]byte, 0, 636+len(signature))
	quote = append(quote, headerBytes[:]...)
	quote = append(quote, bodyBytes[:]...)
	quote = binary.LittleEndian.AppendUint32(quote, uint32(len(signature)))
	quote = append(quote, signature...)

	return quote
}

// CollateralParts are the pieces of forged collateral, matching the six
// collateral fields without importing the collateral package.
type CollateralParts struct {
	TCBInfoIssuerChain    string
	TCBInfo               []byte
	TCBInfoSignature      []byte
	QEIdentityIssuerChain string
	QEIdentity            []byte
	QEIdentitySignature   []byte
}

// Collateral builds collateral matching the Forge's default quote.
func (f *Forge) Collateral() CollateralParts {
	return f.CollateralWith(f.TCBInfoDoc(), f.QEIdentityDoc())
}

// CollateralWith builds collateral from the given documents, signing both with
// the Forge's TCB signing key.
func (f *Forge) CollateralWith(tcbInfo TCBInfoDoc, qeIdentity QEIdentityDoc) CollateralParts {
	f.t.Helper()

	tcbInfoJSON, err := json.Marshal(tcbInfo)
	require.NoError(f.t, err)
	qeIdentityJSON, err := json.Marshal(qeIdentity)
	require.NoError(f.t, err)

	tcbInfoSig := f.sign(f.tcbSigningKey, tcbInfoJSON)
	qeIdentitySig := f.sign(f.tcbSigningKey, qeIdentityJSON)

	issuerChain := string(pemEncodeCert(f.TCBSigningCert)) + string(pemEncodeCert(f.RootCert))

	return CollateralParts{
		TCBInfoIssuerChain:    issuerChain,
		TCBInfo:               tcbInfoJSON,
		TCBInfoSignature:      tcbInfoSig[:],
		QEIdentityIssuerChain: issuerChain,
		QEIdentity:            qeIdentityJSON,
		QEIdentitySignature:   qeIdentitySig[:],
	}
}

// TCBInfoDoc returns the default TCB Info document: a single up to date TCB
// level matched by the default quote.
func (f *Forge) TCBInfoDoc() TCBInfoDoc {
	return TCBInfoDoc{
		ID:                      "TDX",
		Version:                 3,
		IssueDate:               Now.Add(-24 * time.Hour).Format(time.RFC3339),
		NextUpdate:              Now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		FMSPC:                   hex.EncodeToString(FMSPC[:]),
		PCEID:                   hex.EncodeToString(PCEID[:]),
		TCBType:                 0,
		TCBEvaluationDataNumber: 16,
		TDXModule: TDXModuleDoc{
			MRSigner:       hex.EncodeToString(TDXModuleMRSigner[:]),
			Attributes:     "0000000000000000",
			AttributesMask: "ffffffffffffffff",
		},
		TCBLevels: []TCBLevelDoc{
			{
				TCB: TCBDoc{
					SGXComponents: components(1),
					TDXComponents: components(1),
					PCESVN:        10,
				},
				TCBDate:   "2023-03-15T00:00:00Z",
				TCBStatus: "UpToDate",
			},
		},
	}
}

// QEIdentityDoc returns the default QE Identity document matching the forged
// Quoting Enclave.
func (f *Forge) QEIdentityDoc() QEIdentityDoc {
	return QEIdentityDoc{
		ID:                      "TD_QE",
		Version:                 2,
		IssueDate:               Now.Add(-24 * time.Hour).Format(time.RFC3339),
		NextUpdate:              Now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		TCBEvaluationDataNumber: 16,
		MiscSelect:              "00000000",
		MiscSelectMask:          "ffffffff",
		Attributes:              "00000000000000000000000000000000",
		AttributesMask:          "ffffffffffffffffffffffffffffffff",
		MRSigner:                hex.EncodeToString(QEMRSigner[:]),
		ISVProdID:               QEISVProdID,
		TCBLevels: []TCBLevelDoc{
			{
				TCB:       TCBDoc{ISVSVN: QEISVSVN},
				TCBDate:   "2023-03-15T00:00:00Z",
				TCBStatus: "UpToDate",
			},
		},
	}
}

// WrapSigned wraps a collateral document and its signature into the signed
// response body served by the PCS, e.g. {"tcbInfo": {...}, "signature": "..."}.
func WrapSigned(key string, doc []byte, signature []byte) []byte {
	return []byte(fmt.Sprintf(`{%q:%s,"signature":%q}`, key, doc, hex.EncodeToString(signature)))
}

// TCBInfoDoc is the wire form of a forged TCB Info document.
type TCBInfoDoc struct {
	ID                      string        `json:"id"`
	Version                 uint32        `json:"version"`
	IssueDate               string        `json:"issueDate"`
	NextUpdate              string        `json:"nextUpdate"`
	FMSPC                   string        `json:"fmspc"`
	PCEID                   string        `json:"pceid"`
	TCBType                 int           `json:"tcbType"`
	TCBEvaluationDataNumber uint32        `json:"tcbEvaluationDataNumber"`
	TDXModule               TDXModuleDoc  `json:"tdxModule"`
	TCBLevels               []TCBLevelDoc `json:"tcbLevels"`
}

// TDXModuleDoc is the wire form of a TCB Info's TDX module descriptor.
type TDXModuleDoc struct {
	MRSigner       string `json:"mrSigner"`
	Attributes     string `json:"attributes"`
	AttributesMask string `json:"attributesMask"`
}

// QEIdentityDoc is the wire form of a forged QE Identity document.
type QEIdentityDoc struct {
	ID                      string        `json:"id"`
	Version                 uint32        `json:"version"`
	IssueDate               string        `json:"issueDate"`
	NextUpdate              string        `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32        `json:"tcbEvaluationDataNumber"`
	MiscSelect              string        `json:"miscselect"`
	MiscSelectMask          string        `json:"miscselectMask"`
	Attributes              string        `json:"attributes"`
	AttributesMask          string        `json:"attributesMask"`
	MRSigner                string        `json:"mrSigner"`
	ISVProdID               uint16        `json:"isvprodid"`
	TCBLevels               []TCBLevelDoc `json:"tcbLevels"`
}

// TCBLevelDoc is the wire form of a single TCB level.
type TCBLevelDoc struct {
	TCB         TCBDoc   `json:"tcb"`
	TCBDate     string   `json:"tcbDate"`
	TCBStatus   string   `json:"tcbStatus"`
	AdvisoryIDs []string `json:"advisoryIDs,omitempty"`
}

// TCBDoc is the wire form of the component SVNs a TCB level requires.
type TCBDoc struct {
	SGXComponents []ComponentDoc `json:"sgxtcbcomponents,omitempty"`
	TDXComponents []ComponentDoc `json:"tdxtcbcomponents,omitempty"`
	PCESVN        uint16         `json:"pcesvn,omitempty"`
	ISVSVN        uint16         `json:"isvsvn,omitempty"`
}

// ComponentDoc is the wire form of a single TCB component SVN.
type ComponentDoc struct {
	SVN uint8 `json:"svn"`
}

// components returns 16 TCB components all at the given SVN.
func components(svn uint8) []ComponentDoc {
	comps := make([]ComponentDoc, 16)
	for i := range comps {
		comps[i] = ComponentDoc{SVN: svn}
	}
	return comps
}

func (f *Forge) generateKey() *ecdsa.PrivateKey {
	f.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(f.t, err)
	return key
}

func (f *Forge) createCert(template, parent *x509.Certificate, pub *ecdsa.PublicKey, parentKey *ecdsa.PrivateKey) *x509.Certificate {
	f.t.Helper()
	if parent == nil {
		parent = template
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, parentKey)
	require.NoError(f.t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(f.t, err)
	return cert
}

// sign produces a raw r||s ECDSA signature over the SHA-256 digest of data.
func (f *Forge) sign(key *ecdsa.PrivateKey, data []byte) [64]byte {
	f.t.Helper()
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(f.t, err)

	var signature [64]byte
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature
}

func (f *Forge) pckChainPEM() []byte {
	var chain []byte
	chain = append(chain, pemEncodeCert(f.PCKCert)...)
	chain = append(chain, pemEncodeCert(f.PCKCACert)...)
	chain = append(chain, pemEncodeCert(f.RootCert)...)
	return chain
}

func pemEncodeCert(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// rawPublicKey returns the X||Y form of a P-256 public key.
func rawPublicKey(key *ecdsa.PublicKey) [64]byte {
	var raw [64]byte
	key.X.FillBytes(raw[:32])
	key.Y.FillBytes(raw[32:])
	return raw
}
