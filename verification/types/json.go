package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// JSON rendering of parsed quotes. Measurement registers and other byte fields
// are hex encoded so the output stays greppable and diffable; the default
// encoding of byte arrays (number lists) is useless for humans.

// MarshalJSON renders a parsed quote with hex encoded byte fields.
func (q SGXQuote4) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Header          SGXQuote4Header         `json:"header"`
		Body            SGXReport2              `json:"td_report"`
		SignatureLength uint32                  `json:"signature_length"`
		Signature       ECDSA256QuoteV4AuthData `json:"signature"`
	}{q.Header, q.Body, q.SignatureLength, q.Signature})
}

// MarshalJSON renders the quote header with hex encoded byte fields.
func (qh SGXQuote4Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Version            uint16 `json:"version"`
		AttestationKeyType uint16 `json:"attestation_key_type"`
		TEEType            uint32 `json:"tee_type"`
		VendorID           string `json:"vendor_id"`
		UserData           string `json:"user_data"`
	}{
		Version:            qh.Version,
		AttestationKeyType: qh.AttestationKeyType,
		TEEType:            qh.TEEType,
		VendorID:           hex.EncodeToString(qh.VendorID[:]),
		UserData:           hex.EncodeToString(qh.UserData[:]),
	})
}

// MarshalJSON renders the TDReport with hex encoded measurements.
func (qr SGXReport2) MarshalJSON() ([]byte, error) {
	rtmrs := make([]string, len(qr.RTMR))
	for i, rtmr := range qr.RTMR {
		rtmrs[i] = hex.EncodeToString(rtmr[:])
	}
	return json.Marshal(struct {
		TCBSVN         string   `json:"tcb_svn"`
		MRSEAM         string   `json:"mr_seam"`
		MRSIGNERSEAM   string   `json:"mr_signer_seam"`
		SEAMAttributes uint64   `json:"seam_attributes"`
		TDAttributes   uint64   `json:"td_attributes"`
		XFAM           uint64   `json:"xfam"`
		MRTD           string   `json:"mr_td"`
		MRCONFIG       string   `json:"mr_config_id"`
		MROWNER        string   `json:"mr_owner"`
		MROWNERCONFIG  string   `json:"mr_owner_config"`
		RTMR           []string `json:"rtmrs"`
		ReportData     string   `json:"report_data"`
	}{
		TCBSVN:         hex.EncodeToString(qr.TCBSVN[:]),
		MRSEAM:         hex.EncodeToString(qr.MRSEAM[:]),
		MRSIGNERSEAM:   hex.EncodeToString(qr.MRSIGNERSEAM[:]),
		SEAMAttributes: qr.SEAMAttributes,
		TDAttributes:   qr.TDAttributes,
		XFAM:           qr.XFAM,
		MRTD:           hex.EncodeToString(qr.MRTD[:]),
		MRCONFIG:       hex.EncodeToString(qr.MRCONFIG[:]),
		MROWNER:        hex.EncodeToString(qr.MROWNER[:]),
		MROWNERCONFIG:  hex.EncodeToString(qr.MROWNERCONFIG[:]),
		RTMR:           rtmrs,
		ReportData:     hex.EncodeToString(qr.ReportData[:]),
	})
}

// MarshalJSON renders the quote signature section.
func (a ECDSA256QuoteV4AuthData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Signature         string            `json:"signature"`
		PublicKey         string            `json:"attest_public_key"`
		CertificationData CertificationData `json:"certification_data"`
	}{
		Signature:         hex.EncodeToString(a.Signature[:]),
		PublicKey:         hex.EncodeToString(a.PublicKey[:]),
		CertificationData: a.CertificationData,
	})
}

// MarshalJSON renders CertificationData. Byte data (the PCK chain) is emitted
// as a string since it is PEM text; nested structures are emitted as objects.
func (c CertificationData) MarshalJSON() ([]byte, error) {
	var data any
	switch d := c.Data.(type) {
	case []byte:
		data = string(d)
	case QEReportCertificationData:
		data = d
	case nil:
		data = nil
	default:
		return nil, fmt.Errorf("unsupported certification data type: %T", c.Data)
	}
	return json.Marshal(struct {
		Type           uint16 `json:"type"`
		ParsedDataSize uint32 `json:"parsed_data_size"`
		Data           any    `json:"data"`
	}{c.Type, c.ParsedDataSize, data})
}

// MarshalJSON renders the QE report block.
func (q QEReportCertificationData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EnclaveReport     EnclaveReport     `json:"qe_report"`
		Signature         string            `json:"qe_report_signature"`
		QEAuthData        QEAuthData        `json:"qe_auth_data"`
		CertificationData CertificationData `json:"certification_data"`
	}{
		EnclaveReport:     q.EnclaveReport,
		Signature:         hex.EncodeToString(q.Signature[:]),
		QEAuthData:        q.QEAuthData,
		CertificationData: q.CertificationData,
	})
}

// MarshalJSON renders the QE enclave report with hex encoded byte fields.
func (er EnclaveReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CPUSVN     string `json:"cpu_svn"`
		MiscSelect uint32 `json:"misc_select"`
		Attributes string `json:"attributes"`
		MRENCLAVE  string `json:"mr_enclave"`
		MRSIGNER   string `json:"mr_signer"`
		ISVProdID  uint16 `json:"isv_prod_id"`
		ISVSVN     uint16 `json:"isv_svn"`
		ReportData string `json:"report_data"`
	}{
		CPUSVN:     hex.EncodeToString(er.CPUSVN[:]),
		MiscSelect: er.MiscSelect,
		Attributes: hex.EncodeToString(er.Attributes[:]),
		MRENCLAVE:  hex.EncodeToString(er.MRENCLAVE[:]),
		MRSIGNER:   hex.EncodeToString(er.MRSIGNER[:]),
		ISVProdID:  er.ISVProdID,
		ISVSVN:     er.ISVSVN,
		ReportData: hex.EncodeToString(er.ReportData[:]),
	})
}

// MarshalJSON renders the QE auth data as hex.
func (qa QEAuthData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ParsedDataSize uint16 `json:"parsed_data_size"`
		Data           string `json:"data"`
	}{qa.ParsedDataSize, hex.EncodeToString(qa.Data)})
}
