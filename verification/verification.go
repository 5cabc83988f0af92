/*
# Intel TDX Quote Verification

This package verifies Intel TDX quotes against verification collateral.

Verification follows these steps:

  - Verify the PCK certificate chain embedded in the quote against the pinned
    Intel SGX Root CA.

  - Verify the TCB Info and QE Identity documents against their issuer chains,
    rooted in the same Root CA.

  - Verify the quote itself: TDX module identity, QE report signature, QE
    identity, attestation key binding, and quote signature.

  - Determine the TCB level of the platform the quote was produced on.

All checks are evaluated at a caller supplied reference time, so verification
itself performs no network or clock access.
*/
package verification

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quotekit/quotectl/verification/collateral"
	"github.com/quotekit/quotectl/verification/crypto"
	"github.com/quotekit/quotectl/verification/status"
	"github.com/quotekit/quotectl/verification/types"
)

// rootCAPEM is the PEM encoded Intel SGX/TDX Root CA Certificate.
const rootCAPEM = "-----BEGIN CERTIFICATE-----\nMIICjzCCAjSgAwIBAgIUImUM1lqdNInzg7SVUr9QGzknBqwwCgYIKoZIzj0EAwIw\naDEaMBgGA1UEAwwRSW50ZWwgU0dYIFJvb3QgQ0ExGjAYBgNVBAoMEUludGVsIENv\ncnBvcmF0aW9uMRQwEgYDVQQHDAtTYW50YSBDbGFyYTELMAkGA1UECAwCQ0ExCzAJ\nBgNVBAYTAlVTMB4XDTE4MDUyMTEwNDUxMFoXDTQ5MTIzMTIzNTk1OVowaDEaMBgG\nA1UEAwwRSW50ZWwgU0dYIFJvb3QgQ0ExGjAYBgNVBAoMEUludGVsIENvcnBvcmF0\naW9uMRQwEgYDVQQHDAtTYW50YSBDbGFyYTELMAkGA1UECAwCQ0ExCzAJBgNVBAYT\nAlVTMFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAEC6nEwMDIYZOj/iPWsCzaEKi7\n1OiOSLRFhWGjbnBVJfVnkY4u3IjkDYYL0MxO4mqsyYjlBalTVYxFP2sJBK5zlKOB\nuzCBuDAfBgNVHSMEGDAWgBQiZQzWWp00ifODtJVSv1AbOScGrDBSBgNVHR8ESzBJ\nMEegRaBDhkFodHRwczovL2NlcnRpZmljYXRlcy50cnVzdGVkc2VydmljZXMuaW50\nZWwuY29tL0ludGVsU0dYUm9vdENBLmRlcjAdBgNVHQ4EFgQUImUM1lqdNInzg7SV\nUr9QGzknBqwwDgYDVR0PAQH/BAQDAgEGMBIGA1UdEwEB/wQIMAYBAf8CAQEwCgYI\nKoZIzj0EAwIDSQAwRgIhAOW/5QkR+S9CiSDcNoowLuPRLsWGf/Yi7GSX94BgwTwg\nAiEA4J0lrHoMs+Xo5o/sX6O9QWxHRAvZUGOdRQ7cvqRXaqI=\n-----END CERTIFICATE-----\n"

// Report is the result of a successful quote verification.
type Report struct {
	// Status is the TCB status of the platform the quote was produced on.
	Status status.TCBStatus `json:"status"`
	// AdvisoryIDs lists the Intel security advisories affecting the platform
	// at its current TCB level.
	AdvisoryIDs []string `json:"advisoryIds,omitempty"`
}

// Verifier verifies TDX quotes.
type Verifier struct {
	roots *x509.CertPool
}

// New creates a Verifier trusting the Intel SGX Root CA.
func New() *Verifier {
	roots := x509.NewCertPool()
	roots.AddCert(crypto.MustParsePEMCertificate([]byte(rootCAPEM)))
	return &Verifier{roots: roots}
}

// Verify verifies the raw quote against the given collateral at the reference
// time now. On success it returns the TCB status of the quoted platform and
// the security advisories affecting it.
func (v *Verifier) Verify(rawQuote []byte, coll collateral.Collateral, now time.Time) (Report, error) {
	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return Report{}, fmt.Errorf("parsing TDX quote: %w", err)
	}

	certChain, err := types.PCKCertChain(quote)
	if err != nil {
		return Report{}, err
	}
	pckCert := certChain[0]

	if err := v.verifyPCKCert(pckCert, certChain[1], now); err != nil {
		return Report{}, fmt.Errorf("verifying PCK certificate: %w", err)
	}

	var tcbInfo types.TCBInfo
	if err := v.verifySignedDocument(coll.TCBInfo, coll.TCBInfoSignature, coll.TCBInfoIssuerChain, now, &tcbInfo); err != nil {
		return Report{}, fmt.Errorf("verifying TCB Info: %w", err)
	}
	if err := checkValidityWindow(tcbInfo.IssueDate, tcbInfo.NextUpdate, now); err != nil {
		return Report{}, fmt.Errorf("verifying TCB Info: %w", err)
	}

	var qeIdentity types.QEIdentity
	if err := v.verifySignedDocument(coll.QEIdentity, coll.QEIdentitySignature, coll.QEIdentityIssuerChain, now, &qeIdentity); err != nil {
		return Report{}, fmt.Errorf("verifying QE Identity: %w", err)
	}
	if err := checkValidityWindow(qeIdentity.IssueDate, qeIdentity.NextUpdate, now); err != nil {
		return Report{}, fmt.Errorf("verifying QE Identity: %w", err)
	}

	report, err := v.verifyQuote(quote, pckCert, tcbInfo, qeIdentity)
	if err != nil {
		return Report{}, fmt.Errorf("verifying TDX quote: %w", err)
	}
	return report, nil
}

// verifyQuote verifies the quote using the PCK certificate, TCB Info, and QE
// Identity, all of which must already be verified against a trusted root.
func (v *Verifier) verifyQuote(quote types.SGXQuote4, pckCert *x509.Certificate, tcbInfo types.TCBInfo, qeIdentity types.QEIdentity) (Report, error) {
	if tcbInfo.Version < types.TCBInfoMinVersion {
		return Report{}, fmt.Errorf("TCBInfo version %d is not valid for TDX TEE", tcbInfo.Version)
	}
	if tcbInfo.ID != types.TCBInfoTDXID {
		return Report{}, fmt.Errorf("TCBInfo was generated for a different TEE: expected %s, got %s", types.TCBInfoTDXID, tcbInfo.ID)
	}
	if quote.Header.TEEType != types.TEETypeTDX {
		return Report{}, fmt.Errorf("given quote is not a TDX quote: expected TEE type %x, got %x", types.TEETypeTDX, quote.Header.TEEType)
	}

	// The PCK certificate extension carries the TCB the certificate was
	// issued for. It selects the TCB level below and must belong to the
	// platform the TCB Info describes.
	ext, err := types.ParsePCKSGXExtensions(pckCert)
	if err != nil {
		return Report{}, fmt.Errorf("getting TEE extensions from PCK certificate: %w", err)
	}
	if !bytes.Equal(ext.FMSPC[:], tcbInfo.FMSPC[:]) {
		return Report{}, fmt.Errorf("FMSPC in PCK certificate (%x) does not match FMSPC in TCB Info (%x)", ext.FMSPC, tcbInfo.FMSPC)
	}
	if !bytes.Equal(ext.PCEID[:], tcbInfo.PCEID[:]) {
		return Report{}, fmt.Errorf("PCEID in PCK certificate (%x) does not match PCEID in TCB Info (%x)", ext.PCEID, tcbInfo.PCEID)
	}

	// verify TDX module
	if !bytes.Equal(quote.Body.MRSIGNERSEAM[:], tcbInfo.TDXModule.MRSIGNERSEAM[:]) {
		return Report{}, fmt.Errorf("MRSigner in TDX module (%x) does not match MRSigner in TCB Info (%x)", quote.Body.MRSIGNERSEAM, tcbInfo.TDXModule.MRSIGNERSEAM)
	}
	maskedAttributes := quote.Body.SEAMAttributes & tcbInfo.TDXModule.SEAMAttributesMask
	if maskedAttributes != tcbInfo.TDXModule.SEAMAttributes {
		return Report{}, fmt.Errorf("masked SEAMAttributes in TDX module (%x) does not match SEAMAttributes in TCB Info (%x)", maskedAttributes, tcbInfo.TDXModule.SEAMAttributes)
	}

	// verify QE report
	qeReport, ok := quote.Signature.CertificationData.Data.(types.QEReportCertificationData)
	if !ok {
		return Report{}, errors.New("invalid QEReportCertificationData in quote")
	}
	enclaveReport := qeReport.EnclaveReport.Marshal()
	if err := crypto.VerifyECDSASignature(pckCert.PublicKey, enclaveReport[:], qeReport.Signature[:]); err != nil {
		return Report{}, fmt.Errorf("verifying QE report signature: %w", err)
	}

	// The QE binds the attestation key to its report: the first half of the
	// report data is the hash of the key and the auth data.
	concatSHA256 := sha256.Sum256(append(quote.Signature.PublicKey[:], qeReport.QEAuthData.Data...))
	if !bytes.Equal(qeReport.EnclaveReport.ReportData[:32], concatSHA256[:]) {
		return Report{}, errors.New("QE report data does not match QE authentication data")
	}

	// verify QE identity
	if qeIdentity.Version != types.QEIdentityVersion {
		return Report{}, fmt.Errorf("QE Identity version %d is not valid for TDX TEE", qeIdentity.Version)
	}
	if qeIdentity.ID != types.QEIdentityTDXID {
		return Report{}, fmt.Errorf("QE Identity was generated for a different TEE: expected %s, got %s", types.QEIdentityTDXID, qeIdentity.ID)
	}
	if err := verifyQEReportIdentity(qeReport.EnclaveReport, qeIdentity); err != nil {
		return Report{}, fmt.Errorf("verifying QE report against QE Identity: %w", err)
	}
	qeStatus := qeIdentity.TCBStatusFor(qeReport.EnclaveReport.ISVSVN)
	if qeStatus == status.Revoked {
		return Report{}, fmt.Errorf("QE ISVSVN %d is revoked", qeReport.EnclaveReport.ISVSVN)
	}

	// verify quote signature over header and TDReport
	headerBytes := quote.Header.Marshal()
	reportBytes := quote.Body.Marshal()
	toVerify := append(headerBytes[:], reportBytes[:]...)
	attestKey := crypto.BuildECDSAPublicKey(quote.Signature.PublicKey)
	if err := crypto.VerifyECDSASignature(attestKey, toVerify, quote.Signature.Signature[:]); err != nil {
		return Report{}, fmt.Errorf("verifying quote signature: %w", err)
	}

	// determine TCB level
	tcbLevel, err := tcbInfo.TCBLevelFor(ext.TCB, quote.Body.TCBSVN)
	if err != nil {
		return Report{}, fmt.Errorf("determining TCB level: %w", err)
	}
	if tcbLevel.TCBStatus == status.Revoked {
		return Report{}, errors.New("TCB level of the platform is revoked")
	}
	if !tcbLevel.TCBStatus.Known() {
		return Report{}, fmt.Errorf("unknown TCB status %q in matched TCB level", tcbLevel.TCBStatus)
	}

	return Report{Status: tcbLevel.TCBStatus, AdvisoryIDs: tcbLevel.AdvisoryIDs}, nil
}

// verifyPCKCert verifies the PCK certificate chains to the trusted root via
// the PCK CA certificate at the reference time.
func (v *Verifier) verifyPCKCert(pckCert, pckCA *x509.Certificate, now time.Time) error {
	issuer := pckCA.Subject.CommonName
	if issuer != types.PlatformIssuer && issuer != types.ProcessorIssuer {
		return fmt.Errorf("unexpected PCK CA certificate issuer %q", issuer)
	}

	intermediates := x509.NewCertPool()
	intermediates.AddCert(pckCA)
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	}
	if _, err := pckCert.Verify(opts); err != nil {
		return err
	}
	return nil
}

// verifySignedDocument verifies a signed collateral document (TCB Info or QE
// Identity): the issuer chain must lead from the TCB signing certificate to
// the trusted root, and the signature must cover the exact document bytes.
// On success the document is unmarshaled into out.
func (v *Verifier) verifySignedDocument(doc json.RawMessage, signature []byte, issuerChain string, now time.Time, out any) error {
	chain, err := crypto.ParsePEMCertificateChain([]byte(issuerChain))
	if err != nil {
		return fmt.Errorf("parsing issuer chain: %w", err)
	}
	if len(chain) < 2 {
		return fmt.Errorf("issuer chain must contain the signing and root certificates, got %d certificates", len(chain))
	}
	signingCert := chain[0]

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	}
	if _, err := signingCert.Verify(opts); err != nil {
		return fmt.Errorf("verifying signing certificate: %w", err)
	}

	if err := crypto.VerifyECDSASignature(signingCert.PublicKey, doc, signature); err != nil {
		return fmt.Errorf("verifying document signature: %w", err)
	}

	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("unmarshaling document: %w", err)
	}
	return nil
}

// verifyQEReportIdentity checks the QE report against the expected Quoting
// Enclave identity from the QE Identity document.
func verifyQEReportIdentity(report types.EnclaveReport, qeIdentity types.QEIdentity) error {
	if report.MiscSelect&qeIdentity.MiscSelectMask != qeIdentity.MiscSelect {
		return fmt.Errorf("masked MISCSELECT %x does not match expected %x", report.MiscSelect&qeIdentity.MiscSelectMask, qeIdentity.MiscSelect)
	}
	for i := range report.Attributes {
		if report.Attributes[i]&qeIdentity.AttributesMask[i] != qeIdentity.Attributes[i] {
			return fmt.Errorf("masked ATTRIBUTES %x do not match expected %x", report.Attributes, qeIdentity.Attributes)
		}
	}
	if !bytes.Equal(report.MRSIGNER[:], qeIdentity.MRSIGNER[:]) {
		return fmt.Errorf("MRSIGNER %x does not match expected %x", report.MRSIGNER, qeIdentity.MRSIGNER)
	}
	if report.ISVProdID != qeIdentity.ISVProdID {
		return fmt.Errorf("ISVPRODID %d does not match expected %d", report.ISVProdID, qeIdentity.ISVProdID)
	}
	return nil
}

// checkValidityWindow checks that now falls between a document's issue date
// and its next scheduled update.
func checkValidityWindow(issueDate, nextUpdate time.Time, now time.Time) error {
	if now.Before(issueDate) {
		return fmt.Errorf("document is not yet valid: issued %s, verification time %s", issueDate, now)
	}
	if now.After(nextUpdate) {
		return fmt.Errorf("document is expired: next update %s, verification time %s", nextUpdate, now)
	}
	return nil
}
