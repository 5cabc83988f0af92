package types

import (
	"encoding/binary"
)

// Marshal serializes the quote header into the binary form it has in a raw quote.
func (qh *SGXQuote4Header) Marshal() [48]byte {
	var result [48]byte
	binary.LittleEndian.PutUint16(result[0:2], qh.Version)
	binary.LittleEndian.PutUint16(result[2:4], qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], qh.TEEType)
	binary.LittleEndian.PutUint32(result[8:12], qh.Reserved)
	copy(result[12:28], qh.VendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes the TDReport into the binary form it has in a raw quote.
// Quote signatures cover the concatenation of the marshaled header and body.
func (qr *SGXReport2) Marshal() [584]byte {
	var result [584]byte
	copy(result[0:16], qr.TCBSVN[:])
	copy(result[16:64], qr.MRSEAM[:])
	copy(result[64:112], qr.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(result[112:120], qr.SEAMAttributes)
	binary.LittleEndian.PutUint64(result[120:128], qr.TDAttributes)
	binary.LittleEndian.PutUint64(result[128:136], qr.XFAM)
	copy(result[136:184], qr.MRTD[:])
	copy(result[184:232], qr.MRCONFIG[:])
	copy(result[232:280], qr.MROWNER[:])
	copy(result[280:328], qr.MROWNERCONFIG[:])
	copy(result[328:376], qr.RTMR[0][:])
	copy(result[376:424], qr.RTMR[1][:])
	copy(result[424:472], qr.RTMR[2][:])
	copy(result[472:520], qr.RTMR[3][:])
	copy(result[520:584], qr.ReportData[:])

	return result
}

// Marshal serializes the QE enclave report into the binary form the QE report
// signature covers.
func (er *EnclaveReport) Marshal() [384]byte {
	var result [384]byte
	copy(result[0:16], er.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[16:20], er.MiscSelect)
	copy(result[20:48], er.Reserved1[:])
	copy(result[48:64], er.Attributes[:])
	copy(result[64:96], er.MRENCLAVE[:])
	copy(result[96:128], er.Reserved2[:])
	copy(result[128:160], er.MRSIGNER[:])
	copy(result[160:256], er.Reserved3[:])
	binary.LittleEndian.PutUint16(result[256:258], er.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], er.ISVSVN)
	copy(result[260:320], er.Reserved4[:])
	copy(result[320:384], er.ReportData[:])

	return result
}
