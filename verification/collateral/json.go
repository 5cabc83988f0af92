package collateral

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// collateralJSON is the on-disk representation of Collateral. The signed
// documents are embedded as strings so re-importing preserves the exact bytes
// the signatures cover, and the signatures are hex encoded.
type collateralJSON struct {
	TCBInfoIssuerChain    string `json:"tcb_info_issuer_chain"`
	TCBInfo               string `json:"tcb_info"`
	TCBInfoSignature      string `json:"tcb_info_signature"`
	QEIdentityIssuerChain string `json:"qe_identity_issuer_chain"`
	QEIdentity            string `json:"qe_identity"`
	QEIdentitySignature   string `json:"qe_identity_signature"`
}

// String renders the collateral in its export shape: documents as text,
// signatures hex encoded. Printing the struct directly would render the
// document bytes and signatures as decimal byte lists.
func (c Collateral) String() string {
	return fmt.Sprintf("%+v", collateralJSON{
		TCBInfoIssuerChain:    c.TCBInfoIssuerChain,
		TCBInfo:               string(c.TCBInfo),
		TCBInfoSignature:      hex.EncodeToString(c.TCBInfoSignature),
		QEIdentityIssuerChain: c.QEIdentityIssuerChain,
		QEIdentity:            string(c.QEIdentity),
		QEIdentitySignature:   hex.EncodeToString(c.QEIdentitySignature),
	})
}

// MarshalJSON implements json.Marshaler.
func (c Collateral) MarshalJSON() ([]byte, error) {
	return json.Marshal(collateralJSON{
		TCBInfoIssuerChain:    c.TCBInfoIssuerChain,
		TCBInfo:               string(c.TCBInfo),
		TCBInfoSignature:      hex.EncodeToString(c.TCBInfoSignature),
		QEIdentityIssuerChain: c.QEIdentityIssuerChain,
		QEIdentity:            string(c.QEIdentity),
		QEIdentitySignature:   hex.EncodeToString(c.QEIdentitySignature),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Collateral) UnmarshalJSON(data []byte) error {
	var raw collateralJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tcbInfoSig, err := hex.DecodeString(raw.TCBInfoSignature)
	if err != nil {
		return fmt.Errorf("decoding tcb_info_signature: %w", err)
	}
	qeIdentitySig, err := hex.DecodeString(raw.QEIdentitySignature)
	if err != nil {
		return fmt.Errorf("decoding qe_identity_signature: %w", err)
	}
	*c = Collateral{
		TCBInfoIssuerChain:    raw.TCBInfoIssuerChain,
		TCBInfo:               json.RawMessage(raw.TCBInfo),
		TCBInfoSignature:      tcbInfoSig,
		QEIdentityIssuerChain: raw.QEIdentityIssuerChain,
		QEIdentity:            json.RawMessage(raw.QEIdentity),
		QEIdentitySignature:   qeIdentitySig,
	}
	return nil
}
