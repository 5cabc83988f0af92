// Package types contains the binary structures of Intel TDX v4 quotes and the
// PCS documents (TCB Info, QE Identity) needed to appraise them.
package types

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"errors"
	"fmt"
)

/*
   TDX (SGX Quote 4 / SGX Report 2) quote layout.
   Struct names follow Intel's DCAP sources so they can be cross-checked against:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report2.h

   A raw quote is: 48 byte header | 584 byte TDReport | 4 byte signature length |
   variable signature section. The signature section nests twice: it carries the
   QE report and its auth data, which in turn carry the PEM encoded PCK
   certificate chain. Only API v4 quotes are supported.
*/

const (
	// TEETypeSGX is the TEE type value in the quote header for SGX quotes.
	TEETypeSGX = 0x0

	// TEETypeTDX is the TEE type value in the quote header for TDX quotes.
	TEETypeTDX = 0x81

	// PCK_ID_PCK_CERT_CHAIN is the CertificationData type holding a PEM encoded,
	// \0 terminated PCK certificate chain.
	PCK_ID_PCK_CERT_CHAIN = 5

	// PCK_ID_QE_REPORT_CERTIFICATION_DATA is the CertificationData type holding
	// QEReportCertificationData.
	PCK_ID_QE_REPORT_CERTIFICATION_DATA = 6

	// quoteHeaderSize is the size of SGXQuote4Header in bytes.
	quoteHeaderSize = 48

	// quoteBodySize is the size of SGXReport2 in bytes.
	quoteBodySize = 584

	// signatureOffset is where the signature section starts in a raw quote,
	// right after the 4 byte signature length field.
	signatureOffset = quoteHeaderSize + quoteBodySize + 4

	// maxQuoteSize caps accepted quotes at 1 MiB.
	maxQuoteSize = 1048576
)

// SGXExtensionOID is the OID of Intel's custom x509 SGX extension in PCK certificates.
var SGXExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

// SGXQuote4Header is the fixed size header of an SGX/TDX v4 quote.
type SGXQuote4Header struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	Reserved           uint32
	VendorID           [16]byte
	UserData           [20]byte
}

// SGXReport2 is the TDReport of a TDX guest, the measured body the quote signs.
type SGXReport2 struct {
	TCBSVN         [16]byte
	MRSEAM         [48]byte // SHA384
	MRSIGNERSEAM   [48]byte // SHA384
	SEAMAttributes uint64
	TDAttributes   uint64
	XFAM           uint64
	MRTD           [48]byte // SHA384
	MRCONFIG       [48]byte // SHA384
	MROWNER        [48]byte // SHA384
	MROWNERCONFIG  [48]byte // SHA384
	RTMR           [4][48]byte
	ReportData     [64]byte
}

// SGXQuote4 is a parsed SGX/TDX v4 quote.
type SGXQuote4 struct {
	Header          SGXQuote4Header
	Body            SGXReport2
	SignatureLength uint32
	Signature       ECDSA256QuoteV4AuthData
}

// ParseQuote parses a complete raw Intel TDX v4 quote.
func ParseQuote(rawQuote []byte) (SGXQuote4, error) {
	quoteLength := len(rawQuote)
	if quoteLength < signatureOffset {
		return SGXQuote4{}, fmt.Errorf("quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	}
	if quoteLength > maxQuoteSize {
		return SGXQuote4{}, fmt.Errorf("quote is too large (over 1 MiB, received: %d bytes)", quoteLength)
	}

	header := SGXQuote4Header{
		Version:            binary.LittleEndian.Uint16(rawQuote[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(rawQuote[2:4]),
		TEEType:            binary.LittleEndian.Uint32(rawQuote[4:8]),
		Reserved:           binary.LittleEndian.Uint32(rawQuote[8:12]),
		VendorID:           [16]byte(rawQuote[12:28]),
		UserData:           [20]byte(rawQuote[28:48]),
	}

	if header.Version != 4 {
		return SGXQuote4{}, fmt.Errorf("quote version is not 4 (got: %d)", header.Version)
	}
	if header.TEEType != TEETypeTDX {
		return SGXQuote4{}, fmt.Errorf("quote does not appear to be a TDX quote (expected TEEType: %d, got: %d)", TEETypeTDX, header.TEEType)
	}

	body := SGXReport2{
		TCBSVN:         [16]byte(rawQuote[48:64]),
		MRSEAM:         [48]byte(rawQuote[64:112]),
		MRSIGNERSEAM:   [48]byte(rawQuote[112:160]),
		SEAMAttributes: binary.LittleEndian.Uint64(rawQuote[160:168]),
		TDAttributes:   binary.LittleEndian.Uint64(rawQuote[168:176]),
		XFAM:           binary.LittleEndian.Uint64(rawQuote[176:184]),
		MRTD:           [48]byte(rawQuote[184:232]),
		MRCONFIG:       [48]byte(rawQuote[232:280]),
		MROWNER:        [48]byte(rawQuote[280:328]),
		MROWNERCONFIG:  [48]byte(rawQuote[328:376]),
		RTMR:           [4][48]byte{[48]byte(rawQuote[376:424]), [48]byte(rawQuote[424:472]), [48]byte(rawQuote[472:520]), [48]byte(rawQuote[520:568])},
		ReportData:     [64]byte(rawQuote[568:632]),
	}

	signatureLength := binary.LittleEndian.Uint32(rawQuote[632:signatureOffset])
	// Widen before adding so a huge length field cannot overflow the bounds check.
	endSignature := signatureOffset + uint64(signatureLength)
	if endSignature > uint64(quoteLength) {
		return SGXQuote4{}, fmt.Errorf("quote SignatureLength is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", signatureLength, quoteLength-signatureOffset)
	}

	signature, err := parseSignature(rawQuote[signatureOffset:endSignature])
	if err != nil {
		return SGXQuote4{}, fmt.Errorf("parsing quote signature: %w", err)
	}

	return SGXQuote4{
		Header:          header,
		Body:            body,
		SignatureLength: signatureLength,
		Signature:       signature,
	}, nil
}

// ECDSA256QuoteV4AuthData is the signature section of a TDX v4 quote.
type ECDSA256QuoteV4AuthData struct {
	Signature         [64]byte
	PublicKey         [64]byte
	CertificationData CertificationData // QEReportCertificationData for API v4
}

// CertificationData is Intel's generic typed data wrapper. For API v4 TDX
// quotes the outer instance holds QEReportCertificationData (type 6) and the
// inner one a PEM certificate chain (type 5).
type CertificationData struct {
	Type           uint16
	ParsedDataSize uint32
	Data           any
}

// Size returns the size in bytes of the wrapped Data.
func (c CertificationData) Size() uint32 {
	switch data := c.Data.(type) {
	case QEReportCertificationData:
		// EnclaveReport (384) + Signature (64)
		reportAndSigLen := 384 + 64
		// QEAuthData: 2 byte size prefix + data
		qeAuthLen := 2 + len(data.QEAuthData.Data)
		// inner CertificationData: 2 byte type + 4 byte size prefix + chain bytes
		certData, ok := data.CertificationData.Data.([]byte)
		if !ok {
			// only possible for hand-built structs, never for parsed quotes
			return 0
		}
		certDataLen := len(certData) + 2 + 4

		return uint32(reportAndSigLen + qeAuthLen + certDataLen)
	case []byte:
		return uint32(len(data))
	default:
		return 0
	}
}

// QEReportCertificationData carries the Quoting Enclave report and the PCK
// certificate chain that certifies the attestation key.
type QEReportCertificationData struct {
	EnclaveReport     EnclaveReport
	Signature         [64]byte // ECDSA256, signed with the PCK key
	QEAuthData        QEAuthData
	CertificationData CertificationData // PEM encoded PCK cert chain
}

// EnclaveReport is the SGX report of the Quoting Enclave.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// QEAuthData is opaque authentication data the Quoting Enclave binds into its report.
type QEAuthData struct {
	ParsedDataSize uint16
	Data           []byte
}

// parseSignature parses the ECDSA256QuoteV4AuthData section of a quote.
func parseSignature(signature []byte) (ECDSA256QuoteV4AuthData, error) {
	signatureLength := len(signature)
	if signatureLength < 134 {
		return ECDSA256QuoteV4AuthData{}, fmt.Errorf("signature is too short to be parsed (received: %d bytes)", signatureLength)
	}

	quoteSignature := ECDSA256QuoteV4AuthData{
		Signature: [64]byte(signature[0:64]),
		PublicKey: [64]byte(signature[64:128]),
		CertificationData: CertificationData{
			Type:           binary.LittleEndian.Uint16(signature[128:130]),
			ParsedDataSize: binary.LittleEndian.Uint32(signature[130:134]),
		},
	}

	if quoteSignature.CertificationData.Type != PCK_ID_QE_REPORT_CERTIFICATION_DATA {
		return ECDSA256QuoteV4AuthData{}, fmt.Errorf("signature.CertificationData.Type is unexpected (expected PCK_ID_QE_REPORT_CERTIFICATION_DATA (6), got %d)", quoteSignature.CertificationData.Type)
	}

	// Widen before adding so a corrupt size field cannot overflow.
	endQEReportCertData := 134 + uint64(quoteSignature.CertificationData.ParsedDataSize)
	if endQEReportCertData > uint64(signatureLength) {
		return ECDSA256QuoteV4AuthData{}, fmt.Errorf("signature.CertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", quoteSignature.CertificationData.ParsedDataSize, signatureLength-134)
	}

	qeReportCertData, err := parseQEReportCertificationData(signature[134:endQEReportCertData])
	if err != nil {
		return ECDSA256QuoteV4AuthData{}, err
	}
	quoteSignature.CertificationData.Data = qeReportCertData

	return quoteSignature, nil
}

// parseQEReportCertificationData parses the QE report block embedded in the quote signature.
func parseQEReportCertificationData(qeReportCertData []byte) (QEReportCertificationData, error) {
	qeReportCertDataLength := len(qeReportCertData)
	if qeReportCertDataLength < 450 {
		return QEReportCertificationData{}, fmt.Errorf("QEReportCertificationData is too short to be parsed (received: %d bytes)", qeReportCertDataLength)
	}

	qeReport := QEReportCertificationData{
		EnclaveReport: EnclaveReport{
			CPUSVN:     [16]byte(qeReportCertData[0:16]),
			MiscSelect: binary.LittleEndian.Uint32(qeReportCertData[16:20]),
			Reserved1:  [28]byte(qeReportCertData[20:48]),
			Attributes: [16]byte(qeReportCertData[48:64]),
			MRENCLAVE:  [32]byte(qeReportCertData[64:96]),
			Reserved2:  [32]byte(qeReportCertData[96:128]),
			MRSIGNER:   [32]byte(qeReportCertData[128:160]),
			Reserved3:  [96]byte(qeReportCertData[160:256]),
			ISVProdID:  binary.LittleEndian.Uint16(qeReportCertData[256:258]),
			ISVSVN:     binary.LittleEndian.Uint16(qeReportCertData[258:260]),
			Reserved4:  [60]byte(qeReportCertData[260:320]),
			ReportData: [64]byte(qeReportCertData[320:384]),
		},
		Signature: [64]byte(qeReportCertData[384:448]),
		QEAuthData: QEAuthData{
			ParsedDataSize: binary.LittleEndian.Uint16(qeReportCertData[448:450]),
		},
	}

	endQEAuthData := 450 + uint32(qeReport.QEAuthData.ParsedDataSize)
	if endQEAuthData > uint32(qeReportCertDataLength) {
		return QEReportCertificationData{}, fmt.Errorf("QEAuthData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", qeReport.QEAuthData.ParsedDataSize, qeReportCertDataLength-450)
	}
	qeReport.QEAuthData.Data = qeReportCertData[450:endQEAuthData]

	qeReportInnerCertData, err := parseQEReportInnerCertificationData(qeReportCertData[endQEAuthData:])
	if err != nil {
		return QEReportCertificationData{}, err
	}
	qeReport.CertificationData = qeReportInnerCertData

	return qeReport, nil
}

// parseQEReportInnerCertificationData parses the innermost CertificationData,
// which holds the PEM encoded PCK certificate chain.
func parseQEReportInnerCertificationData(certData []byte) (CertificationData, error) {
	certDataLength := len(certData)
	if certDataLength <= 6 {
		return CertificationData{}, fmt.Errorf("QEReportCertificationData.CertificationData is too short to be parsed (received: %d bytes)", certDataLength)
	}

	innerCertData := CertificationData{
		Type:           binary.LittleEndian.Uint16(certData[0:2]),
		ParsedDataSize: binary.LittleEndian.Uint32(certData[2:6]),
	}

	if innerCertData.Type != PCK_ID_PCK_CERT_CHAIN {
		return CertificationData{}, fmt.Errorf("QEReportCertificationData.CertificationData.Type is unexpected (expected PCK_ID_PCK_CERT_CHAIN (5), got %d)", innerCertData.Type)
	}

	endInnerCertData := 6 + uint64(innerCertData.ParsedDataSize)
	if endInnerCertData > uint64(certDataLength) {
		return CertificationData{}, fmt.Errorf("QEReportCertificationData.CertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", innerCertData.ParsedDataSize, certDataLength-6)
	}

	innerCertData.Data = certData[6:endInnerCertData]

	return innerCertData, nil
}

// SGXExtensions are the values of Intel's custom x509 extension in PCK certificates.
type SGXExtensions struct {
	PPID               [16]byte
	TCB                PCKTCB
	PCEID              [2]byte
	FMSPC              [6]byte
	SGXType            int // 0 standard, 1 scalable
	PlatformInstanceID [16]byte
	Configuration      PCKConfiguration
}

// PCKTCB is the TCB the PCK certificate was issued for.
type PCKTCB struct {
	TCBSVN [16]int
	PCESVN uint32
	CPUSVN [16]byte
}

// PCKConfiguration describes platform configuration flags of multi user platforms.
type PCKConfiguration struct {
	DynamicPlatform bool
	CachedKeys      bool
	SMTEnabled      bool
}

// ParsePCKSGXExtensions extracts and parses the SGX extension of a PCK certificate.
func ParsePCKSGXExtensions(pckCert *x509.Certificate) (SGXExtensions, error) {
	var sgxExtension []byte
	for _, ext := range pckCert.Extensions {
		if ext.Id.Equal(SGXExtensionOID) {
			sgxExtension = ext.Value
			break
		}
	}
	if len(sgxExtension) == 0 {
		return SGXExtensions{}, errors.New("no SGX extension found in certificate")
	}

	var asn1Extensions asn1SGXExtensions
	if _, err := asn1.Unmarshal(sgxExtension, &asn1Extensions); err != nil {
		return SGXExtensions{}, fmt.Errorf("unmarshaling SGX extension: %w", err)
	}

	var ext SGXExtensions

	if len(asn1Extensions.PPID.Value) != 16 {
		return SGXExtensions{}, fmt.Errorf("invalid PPID length: %d", len(asn1Extensions.PPID.Value))
	}
	ext.PPID = [16]byte(asn1Extensions.PPID.Value)

	if len(asn1Extensions.PCEID.Value) != 2 {
		return SGXExtensions{}, fmt.Errorf("invalid PCEID length: %d", len(asn1Extensions.PCEID.Value))
	}
	ext.PCEID = [2]byte(asn1Extensions.PCEID.Value)

	ext.SGXType = int(asn1Extensions.SGXType.Value)

	if len(asn1Extensions.FMSPC.Value) != 6 {
		return SGXExtensions{}, fmt.Errorf("invalid FMSPC length: %d", len(asn1Extensions.FMSPC.Value))
	}
	ext.FMSPC = [6]byte(asn1Extensions.FMSPC.Value)

	// PlatformInstanceID is optional, but must be 16 bytes when present.
	platformIDLen := len(asn1Extensions.PlatformInstanceID.Value)
	if platformIDLen > 0 {
		if platformIDLen != 16 {
			return SGXExtensions{}, fmt.Errorf("invalid PlatformInstanceID length: %d", platformIDLen)
		}
		ext.PlatformInstanceID = [16]byte(asn1Extensions.PlatformInstanceID.Value)
	}

	// Configuration is optional and defaults to all false.
	ext.Configuration.CachedKeys = asn1Extensions.Configuration.Configuration.CachedKeys.Value
	ext.Configuration.DynamicPlatform = asn1Extensions.Configuration.Configuration.DynamicPlatform.Value
	ext.Configuration.SMTEnabled = asn1Extensions.Configuration.Configuration.SMTEnabled.Value

	if len(asn1Extensions.TCB.TCBInfo.CPUSVN.Value) != 16 {
		return SGXExtensions{}, fmt.Errorf("invalid CPUSVN length: %d", len(asn1Extensions.TCB.TCBInfo.CPUSVN.Value))
	}
	ext.TCB.CPUSVN = [16]byte(asn1Extensions.TCB.TCBInfo.CPUSVN.Value)
	ext.TCB.PCESVN = uint32(asn1Extensions.TCB.TCBInfo.PCESVN.Value)

	for i, comp := range asn1Extensions.TCB.TCBInfo.components() {
		ext.TCB.TCBSVN[i] = comp.Value
	}

	return ext, nil
}

// MarshalSGXExtensions builds the DER encoding of an SGX extension value from
// its parsed representation. The inverse of ParsePCKSGXExtensions; used to
// forge PCK certificates for tests.
func MarshalSGXExtensions(ext SGXExtensions) ([]byte, error) {
	oid := func(last ...int) asn1.ObjectIdentifier {
		return append(asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}, last...)
	}

	tcbInfo := asn1TCBInfo{
		PCESVN: asn1Integer{Oid: oid(2, 17), Value: int(ext.TCB.PCESVN)},
		CPUSVN: asn1OctetString{Oid: oid(2, 18), Value: ext.TCB.CPUSVN[:]},
	}
	comps := []*asn1Integer{
		&tcbInfo.Comp01SVN, &tcbInfo.Comp02SVN, &tcbInfo.Comp03SVN, &tcbInfo.Comp04SVN,
		&tcbInfo.Comp05SVN, &tcbInfo.Comp06SVN, &tcbInfo.Comp07SVN, &tcbInfo.Comp08SVN,
		&tcbInfo.Comp09SVN, &tcbInfo.Comp10SVN, &tcbInfo.Comp11SVN, &tcbInfo.Comp12SVN,
		&tcbInfo.Comp13SVN, &tcbInfo.Comp14SVN, &tcbInfo.Comp15SVN, &tcbInfo.Comp16SVN,
	}
	for i, comp := range comps {
		comp.Oid = oid(2, i+1)
		comp.Value = ext.TCB.TCBSVN[i]
	}

	asn1Ext := asn1SGXExtensions{
		PPID:               asn1OctetString{Oid: oid(1), Value: ext.PPID[:]},
		TCB:                asn1TCB{TCBOid: oid(2), TCBInfo: tcbInfo},
		PCEID:              asn1OctetString{Oid: oid(3), Value: ext.PCEID[:]},
		FMSPC:              asn1OctetString{Oid: oid(4), Value: ext.FMSPC[:]},
		SGXType:            asn1Enumerated{Oid: oid(5), Value: asn1.Enumerated(ext.SGXType)},
		PlatformInstanceID: asn1OctetString{Oid: oid(6), Value: ext.PlatformInstanceID[:]},
		Configuration: asn1Configuration{
			ConfigurationOid: oid(7),
			Configuration: asn1ConfigurationOptions{
				DynamicPlatform: asn1Boolean{Oid: oid(7, 1), Value: ext.Configuration.DynamicPlatform},
				CachedKeys:      asn1Boolean{Oid: oid(7, 2), Value: ext.Configuration.CachedKeys},
				SMTEnabled:      asn1Boolean{Oid: oid(7, 3), Value: ext.Configuration.SMTEnabled},
			},
		},
	}

	return asn1.Marshal(asn1Ext)
}

// asn1SGXExtensions is the ASN.1 shape of the SGX extension: a sequence of
// (OID, value) pairs in fixed order.
type asn1SGXExtensions struct {
	PPID               asn1OctetString
	TCB                asn1TCB
	PCEID              asn1OctetString
	FMSPC              asn1OctetString
	SGXType            asn1Enumerated
	PlatformInstanceID asn1OctetString   `asn1:"optional"`
	Configuration      asn1Configuration `asn1:"optional"`
}

type asn1TCB struct {
	TCBOid  asn1.ObjectIdentifier
	TCBInfo asn1TCBInfo
}

type asn1TCBInfo struct {
	Comp01SVN asn1Integer
	Comp02SVN asn1Integer
	Comp03SVN asn1Integer
	Comp04SVN asn1Integer
	Comp05SVN asn1Integer
	Comp06SVN asn1Integer
	Comp07SVN asn1Integer
	Comp08SVN asn1Integer
	Comp09SVN asn1Integer
	Comp10SVN asn1Integer
	Comp11SVN asn1Integer
	Comp12SVN asn1Integer
	Comp13SVN asn1Integer
	Comp14SVN asn1Integer
	Comp15SVN asn1Integer
	Comp16SVN asn1Integer
	PCESVN    asn1Integer
	CPUSVN    asn1OctetString
}

func (t asn1TCBInfo) components() [16]asn1Integer {
	return [16]asn1Integer{
		t.Comp01SVN, t.Comp02SVN, t.Comp03SVN, t.Comp04SVN,
		t.Comp05SVN, t.Comp06SVN, t.Comp07SVN, t.Comp08SVN,
		t.Comp09SVN, t.Comp10SVN, t.Comp11SVN, t.Comp12SVN,
		t.Comp13SVN, t.Comp14SVN, t.Comp15SVN, t.Comp16SVN,
	}
}

type asn1Configuration struct {
	ConfigurationOid asn1.ObjectIdentifier
	Configuration    asn1ConfigurationOptions
}

type asn1ConfigurationOptions struct {
	DynamicPlatform asn1Boolean `asn1:"optional"`
	CachedKeys      asn1Boolean `asn1:"optional"`
	SMTEnabled      asn1Boolean `asn1:"optional"`
}

type asn1OctetString struct {
	Oid   asn1.ObjectIdentifier
	Value []byte
}

type asn1Integer struct {
	Oid   asn1.ObjectIdentifier
	Value int
}

type asn1Boolean struct {
	Oid   asn1.ObjectIdentifier
	Value bool
}

type asn1Enumerated struct {
	Oid   asn1.ObjectIdentifier
	Value asn1.Enumerated
}
