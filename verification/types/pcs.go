package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quotekit/quotectl/verification/status"
)

const (
	// TCBInfoTDXID marks a TCB Info document issued for TDX platforms.
	TCBInfoTDXID = "TDX"

	// TCBInfoSGXID marks a TCB Info document issued for SGX platforms.
	TCBInfoSGXID = "SGX"

	// TCBInfoMinVersion is the lowest TCB Info version carrying TDX data.
	TCBInfoMinVersion = 3

	// QEIdentityVersion is the supported version of QE Identity documents.
	QEIdentityVersion = 2

	// QEIdentityTDXID marks a QE Identity document for the TDX Quoting Enclave.
	QEIdentityTDXID = "TD_QE"

	// PlatformIssuer is the CA issuer for multi platform PCK certificates.
	PlatformIssuer = "Intel SGX PCK Platform CA"

	// ProcessorIssuer is the CA issuer for single platform PCK certificates.
	ProcessorIssuer = "Intel SGX PCK Processor CA"
)

// TCBInfo is the TCB Info document of the PCS, describing the known TCB levels
// of a platform identified by FMSPC.
type TCBInfo struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               time.Time  `json:"issueDate"`
	NextUpdate              time.Time  `json:"nextUpdate"`
	FMSPC                   [6]byte    `json:"fmspc"`
	PCEID                   [2]byte    `json:"pceid"`
	TCBType                 int        `json:"tcbType"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	TDXModule               TDXModule  `json:"tdxModule"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// UnmarshalJSON parses the PCS JSON representation of a TCB Info document.
func (t *TCBInfo) UnmarshalJSON(data []byte) error {
	var tcbInfoJSON tcbInfoJSON
	if err := json.Unmarshal(data, &tcbInfoJSON); err != nil {
		return fmt.Errorf("unmarshaling TCB Info JSON: %w", err)
	}
	var err error

	t.ID = tcbInfoJSON.ID
	t.Version = tcbInfoJSON.Version

	t.IssueDate, err = time.Parse(time.RFC3339, tcbInfoJSON.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing TCBInfo issue date: %w", err)
	}
	t.NextUpdate, err = time.Parse(time.RFC3339, tcbInfoJSON.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing TCBInfo next update date: %w", err)
	}

	fmspc, err := decodeHexToByte(tcbInfoJSON.FMSPC, 6)
	if err != nil {
		return fmt.Errorf("decoding FMSPC: %w", err)
	}
	t.FMSPC = [6]byte(fmspc)

	pceid, err := decodeHexToByte(tcbInfoJSON.PCEID, 2)
	if err != nil {
		return fmt.Errorf("decoding PCEID: %w", err)
	}
	t.PCEID = [2]byte(pceid)

	t.TCBType = tcbInfoJSON.TCBType
	t.TCBEvaluationDataNumber = tcbInfoJSON.TCBEvaluationDataNumber
	t.TDXModule = tcbInfoJSON.TDXModule
	t.TCBLevels = tcbInfoJSON.TCBLevels

	return nil
}

// TCBLevelFor returns the first (highest) TCB level matched by the platform's
// actual SVN values: the SGX components and PCESVN from the PCK certificate,
// and the TDX components from the TDReport.
//
// Matching follows Intel's appraisal procedure: a level matches when every
// actual component SVN is greater or equal to the level's component SVN.
func (t *TCBInfo) TCBLevelFor(pckTCB PCKTCB, teeTCBSVN [16]byte) (TCBLevel, error) {
	for _, level := range t.TCBLevels {
		if level.matches(pckTCB, teeTCBSVN) {
			return level, nil
		}
	}
	return TCBLevel{}, fmt.Errorf("no TCB level matches the platform TCB (pcesvn: %d)", pckTCB.PCESVN)
}

// tcbInfoJSON is the raw string based wire form of a TCB Info document.
type tcbInfoJSON struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               string     `json:"issueDate"`
	NextUpdate              string     `json:"nextUpdate"`
	FMSPC                   string     `json:"fmspc"`
	PCEID                   string     `json:"pceid"`
	TCBType                 int        `json:"tcbType"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	TDXModule               TDXModule  `json:"tdxModule"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// QEIdentity is the QE Identity document of the PCS, describing the expected
// identity of the TDX Quoting Enclave.
type QEIdentity struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               time.Time  `json:"issueDate"`
	NextUpdate              time.Time  `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	MiscSelect              uint32     `json:"miscselect"`
	MiscSelectMask          uint32     `json:"miscselectMask"`
	Attributes              [16]byte   `json:"attributes"`
	AttributesMask          [16]byte   `json:"attributesMask"`
	MRSIGNER                [32]byte   `json:"mrSigner"`
	ISVProdID               uint16     `json:"isvprodid"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// UnmarshalJSON parses the PCS JSON representation of a QE Identity document.
func (q *QEIdentity) UnmarshalJSON(data []byte) error {
	var qeIdentity qeIdentityJSON
	if err := json.Unmarshal(data, &qeIdentity); err != nil {
		return fmt.Errorf("unmarshaling QE Identity JSON: %w", err)
	}

	var err error
	q.ID = qeIdentity.ID
	q.Version = qeIdentity.Version
	q.IssueDate, err = time.Parse(time.RFC3339, qeIdentity.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing QEIdentity issue date: %w", err)
	}
	q.NextUpdate, err = time.Parse(time.RFC3339, qeIdentity.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing QEIdentity next update date: %w", err)
	}
	q.TCBEvaluationDataNumber = qeIdentity.TCBEvaluationDataNumber

	miscSelect, err := decodeHexToByte(qeIdentity.MiscSelect, 4)
	if err != nil {
		return fmt.Errorf("decoding MiscSelect: %w", err)
	}
	q.MiscSelect = binary.LittleEndian.Uint32(miscSelect)
	miscSelectMask, err := decodeHexToByte(qeIdentity.MiscSelectMask, 4)
	if err != nil {
		return fmt.Errorf("decoding MiscSelectMask: %w", err)
	}
	q.MiscSelectMask = binary.LittleEndian.Uint32(miscSelectMask)

	attributes, err := decodeHexToByte(qeIdentity.Attributes, 16)
	if err != nil {
		return fmt.Errorf("decoding Attributes: %w", err)
	}
	q.Attributes = [16]byte(attributes)
	attributesMask, err := decodeHexToByte(qeIdentity.AttributesMask, 16)
	if err != nil {
		return fmt.Errorf("decoding AttributesMask: %w", err)
	}
	q.AttributesMask = [16]byte(attributesMask)

	mrSigner, err := decodeHexToByte(qeIdentity.MRSIGNER, 32)
	if err != nil {
		return fmt.Errorf("decoding MRSIGNER: %w", err)
	}
	q.MRSIGNER = [32]byte(mrSigner)

	q.ISVProdID = qeIdentity.ISVProdID
	q.TCBLevels = qeIdentity.TCBLevels

	return nil
}

// TCBStatusFor returns the TCB status of the Quoting Enclave for the given ISV
// SVN: the status of the first (highest) level whose ISVSVN does not exceed it.
// An ISV SVN below all listed levels is treated as revoked.
func (q *QEIdentity) TCBStatusFor(isvSVN uint16) status.TCBStatus {
	for _, tcbLevel := range q.TCBLevels {
		if tcbLevel.TCB.ISVSVN <= isvSVN {
			return tcbLevel.TCBStatus
		}
	}
	return status.Revoked
}

// qeIdentityJSON is the raw string based wire form of a QE Identity document.
type qeIdentityJSON struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               string     `json:"issueDate"`
	NextUpdate              string     `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	MiscSelect              string     `json:"miscselect"`
	MiscSelectMask          string     `json:"miscselectMask"`
	Attributes              string     `json:"attributes"`
	AttributesMask          string     `json:"attributesMask"`
	MRSIGNER                string     `json:"mrSigner"`
	ISVProdID               uint16     `json:"isvprodid"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// TDXModule pins the expected TDX module (SEAM) signer and attributes.
type TDXModule struct {
	MRSIGNERSEAM       [48]byte `json:"mrSigner"`
	SEAMAttributes     uint64   `json:"attributes"`
	SEAMAttributesMask uint64   `json:"attributesMask"`
}

// UnmarshalJSON parses the PCS JSON representation of the TDX module descriptor.
func (t *TDXModule) UnmarshalJSON(data []byte) error {
	var tdxModule tdxModuleJSON
	if err := json.Unmarshal(data, &tdxModule); err != nil {
		return fmt.Errorf("unmarshaling TDX Module JSON: %w", err)
	}

	mrSigner, err := decodeHexToByte(tdxModule.MRSIGNERSEAM, 48)
	if err != nil {
		return fmt.Errorf("decoding MRSIGNER: %w", err)
	}
	t.MRSIGNERSEAM = [48]byte(mrSigner)

	attributes, err := decodeHexToByte(tdxModule.SEAMAttributes, 8)
	if err != nil {
		return fmt.Errorf("decoding Attributes: %w", err)
	}
	t.SEAMAttributes = binary.LittleEndian.Uint64(attributes)
	attributesMask, err := decodeHexToByte(tdxModule.SEAMAttributesMask, 8)
	if err != nil {
		return fmt.Errorf("decoding AttributeMask: %w", err)
	}
	t.SEAMAttributesMask = binary.LittleEndian.Uint64(attributesMask)

	return nil
}

// tdxModuleJSON is the raw string based wire form of the TDX module descriptor.
type tdxModuleJSON struct {
	MRSIGNERSEAM       string `json:"mrSigner"`
	SEAMAttributes     string `json:"attributes"`
	SEAMAttributesMask string `json:"attributesMask"`
}

// TCBLevel is one entry of a document's TCB level list, ordered by the PCS
// from highest to lowest TCB.
type TCBLevel struct {
	TCB         TCB              `json:"tcb"`
	TCBDate     time.Time        `json:"tcbDate"`
	TCBStatus   status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// matches reports whether the platform's actual SVN values meet this level.
func (t *TCBLevel) matches(pckTCB PCKTCB, teeTCBSVN [16]byte) bool {
	for i, comp := range t.TCB.SGXTCBComponents {
		if pckTCB.TCBSVN[i] < int(comp.SVN) {
			return false
		}
	}
	if pckTCB.PCESVN < uint32(t.TCB.PCESVN) {
		return false
	}
	for i, comp := range t.TCB.TDXTCBComponents {
		if teeTCBSVN[i] < comp.SVN {
			return false
		}
	}
	return true
}

// UnmarshalJSON parses the PCS JSON representation of a TCB level.
func (t *TCBLevel) UnmarshalJSON(data []byte) error {
	var tcbLevel tcbLevelJSON
	if err := json.Unmarshal(data, &tcbLevel); err != nil {
		return fmt.Errorf("unmarshaling TCB Level JSON: %w", err)
	}

	t.TCB = tcbLevel.TCB
	tcbDate, err := time.Parse(time.RFC3339, tcbLevel.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB Date: %w", err)
	}
	t.TCBDate = tcbDate
	t.TCBStatus = status.TCBStatus(tcbLevel.TCBStatus)
	t.AdvisoryIDs = tcbLevel.AdvisoryIDs

	return nil
}

// tcbLevelJSON is the raw string based wire form of a TCB level.
type tcbLevelJSON struct {
	TCB         TCB      `json:"tcb"`
	TCBDate     string   `json:"tcbDate"`
	TCBStatus   string   `json:"tcbStatus"`
	AdvisoryIDs []string `json:"advisoryIDs"`
}

// TCB lists the component SVNs a TCB level requires.
type TCB struct {
	SGXTCBComponents [16]TCBComponent `json:"sgxtcbcomponents"`
	TDXTCBComponents [16]TCBComponent `json:"tdxtcbcomponents"`
	PCESVN           uint16           `json:"pcesvn"`
	ISVSVN           uint16           `json:"isvsvn"`
}

// TCBComponent is the SVN of a single TCB component.
type TCBComponent struct {
	SVN      uint8  `json:"svn"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type,omitempty"`
}

// decodeHexToByte decodes a hex string and enforces the decoded length, so
// callers can convert into fixed-size arrays without a second check.
func decodeHexToByte(in string, expectedLen int) ([]byte, error) {
	out, err := hex.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("decoding hex string: %w", err)
	}

	if len(out) != expectedLen {
		return nil, fmt.Errorf("expected %d bytes, but got %d", expectedLen, len(out))
	}

	return out, nil
}
