package types

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/quotekit/quotectl/verification/crypto"
)

// pckChainLen is the expected length of the certificate chain embedded in a
// quote: PCK certificate, PCK CA (intermediate), and root CA.
const pckChainLen = 3

// PCKCertChain extracts and parses the PEM encoded PCK certificate chain from
// a quote's signature section. The returned chain is ordered leaf first: PCK
// certificate, PCK CA, root CA.
func PCKCertChain(quote SGXQuote4) ([]*x509.Certificate, error) {
	qeReport, ok := quote.Signature.CertificationData.Data.(QEReportCertificationData)
	if !ok {
		return nil, errors.New("invalid QEReportCertificationData data type in quote")
	}
	certChainPEM, ok := qeReport.CertificationData.Data.([]byte)
	if !ok {
		return nil, errors.New("invalid PCK certification data type in quote")
	}

	certChain, err := crypto.ParsePEMCertificateChain(certChainPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing PCK certificate chain: %w", err)
	}
	if len(certChain) != pckChainLen {
		return nil, fmt.Errorf("PCK certificate chain must have %d certificates, got %d", pckChainLen, len(certChain))
	}

	return certChain, nil
}
