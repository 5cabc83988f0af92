//go:build linux

// Package tdx interacts with the Intel TDX guest device to create TDReports,
// request quotes from the Quote Generation Service, and manage runtime
// measurement registers.
package tdx

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/vtolstov/go-ioctl"
	"golang.org/x/sys/unix"
)

const (
	// GuestDevice is the path to the TDX guest device.
	GuestDevice = "/dev/tdx-guest"
	// requestBufferSize is the size of the quote request buffer.
	// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/71557c7d1d869b6bd6f95566c051cbd098549509/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L103
	requestBufferSize = 4 * 4 * 1024
)

// QGS message types: https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L63-L69
const (
	qgsGetQuoteRequestType = iota
	qgsGetQuoteResponseType
	qgsGetCollateralRequestType
	qgsGetCollateralResponseType
)

// qgsMessageHeaderSize is the wire size of qgsMessageHeader.
const qgsMessageHeaderSize = 16

// IOCTL calls for quote generation
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L53-L56
var (
	requestReport = ioctl.IOWR('T', 0x01, 8)
	requestQuote  = ioctl.IOR('T', 0x02, 8)
	extendRTMR    = ioctl.IOWR('T', 0x03, 8)
)

// Device is a handle to the TDX guest device.
type Device interface {
	Fd() uintptr
}

// ExtendRTMR extends the RTMR at the given index with the SHA-384 hash of the
// given data.
func ExtendRTMR(tdx Device, extendData []byte, index uint8) error {
	extendDataHash := sha512.Sum384(extendData)
	extendEvent := extendRTMREvent{
		algoID:       5, // HASH_ALGO_SHA384 -> linux/include/uapi/linux/hash_info.h
		digest:       &extendDataHash,
		digestLength: 48,
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), extendRTMR, uintptr(unsafe.Pointer(&extendEvent))); errno != 0 {
		return fmt.Errorf("extending RTMR %d: %w", index, errno)
	}
	return nil
}

// ReadMeasurements reads the MRTD and RTMRs of a TDX guest.
func ReadMeasurements(tdx Device) ([5][48]byte, error) {
	// TDX does not support directly reading RTMRs.
	// Instead, create a report with zeroed user data and read MRTD and the
	// RTMRs from the report.
	report, err := createReport(tdx, [64]byte{})
	if err != nil {
		return [5][48]byte{}, fmt.Errorf("creating report: %w", err)
	}

	// MRTD is located at offset 528 in the report.
	// RTMRs start at offset 720. All measurements are 48 bytes long.
	measurements := [5][48]byte{
		[48]byte(report[528:576]), // MRTD
		[48]byte(report[720:768]), // RTMR0
		[48]byte(report[768:816]), // RTMR1
		[48]byte(report[816:864]), // RTMR2
		[48]byte(report[864:912]), // RTMR3
	}

	return measurements, nil
}

// GenerateQuote generates a TDX quote for the given user data.
// User data may not be longer than 64 bytes.
func GenerateQuote(tdx Device, userData []byte) ([]byte, error) {
	if len(userData) > 64 {
		return nil, fmt.Errorf("user data must not be longer than 64 bytes, received %d bytes", len(userData))
	}

	var reportData [64]byte
	copy(reportData[:], userData)
	tdReport, err := createReport(tdx, reportData)
	if err != nil {
		return nil, fmt.Errorf("creating report: %w", err)
	}

	qgsRequest := qgsGetQuoteRequestMessage{
		header: qgsMessageHeader{
			majorVersion: 1,
			minorVersion: 0,
			messageType:  qgsGetQuoteRequestType,
		},
		reportSize: uint32(len(tdReport)),
	}
	messageSize := uint32(qgsMessageHeaderSize+12) + qgsRequest.reportSize
	qgsRequest.header.size = messageSize

	// The request blob is the QGS message prefixed with its size.
	var requestData [16360]byte
	binary.LittleEndian.PutUint32(requestData[0:4], messageSize)
	offset := 4
	offset += copy(requestData[offset:], qgsRequest.header.marshal())
	binary.LittleEndian.PutUint32(requestData[offset:], qgsRequest.reportSize)
	binary.LittleEndian.PutUint32(requestData[offset+4:], qgsRequest.selectedIDSize)
	binary.LittleEndian.PutUint32(requestData[offset+8:], qgsRequest.idListSize)
	offset += 12
	copy(requestData[offset:], tdReport[:])

	requestHeader := quoteRequestHeader{
		version:     1,
		inputLength: 4 + messageSize,
		data:        &requestData,
	}
	request := quoteRequest{
		blob:   uintptr(unsafe.Pointer(&requestHeader)),
		length: requestBufferSize,
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), requestQuote, uintptr(unsafe.Pointer(&request))); errno != 0 {
		return nil, fmt.Errorf("generating quote: %w", errno)
	}
	if requestHeader.status != 0 {
		return nil, fmt.Errorf("generating quote: status %#x", requestHeader.status)
	}

	return parseQGSResponse(requestData[:])
}

// parseQGSResponse extracts the quote from a size prefixed QGS GET_QUOTE
// response blob.
func parseQGSResponse(data []byte) ([]byte, error) {
	if len(data) < 4+qgsMessageHeaderSize+8 {
		return nil, fmt.Errorf("QGS response is too short: %d bytes", len(data))
	}
	message := data[4:]

	messageType := binary.LittleEndian.Uint32(message[4:8])
	if messageType != qgsGetQuoteResponseType {
		return nil, fmt.Errorf("unexpected QGS message type %d", messageType)
	}
	if errorCode := binary.LittleEndian.Uint32(message[12:16]); errorCode != 0 {
		return nil, fmt.Errorf("QGS returned error code %#x", errorCode)
	}

	selectedIDSize := binary.LittleEndian.Uint32(message[qgsMessageHeaderSize : qgsMessageHeaderSize+4])
	quoteSize := binary.LittleEndian.Uint32(message[qgsMessageHeaderSize+4 : qgsMessageHeaderSize+8])

	quoteStart := uint64(qgsMessageHeaderSize) + 8 + uint64(selectedIDSize)
	quoteEnd := quoteStart + uint64(quoteSize)
	if quoteEnd > uint64(len(message)) {
		return nil, fmt.Errorf("QGS response is truncated: quote requires %d bytes, message has %d", quoteEnd, len(message))
	}

	return message[quoteStart:quoteEnd], nil
}

func createReport(tdx Device, reportData [64]byte) ([1024]byte, error) {
	var tdReport [1024]byte
	request := reportRequest{
		subtype:          0,
		reportData:       &reportData,
		reportDataLength: 64,
		tdReport:         &tdReport,
		tdReportLength:   1024,
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), requestReport, uintptr(unsafe.Pointer(&request))); errno != 0 {
		return [1024]byte{}, fmt.Errorf("creating TDX report: %w", errno)
	}
	return tdReport, nil
}

// extendRTMREvent is the structure used to extend RTMRs in TDX.
type extendRTMREvent struct {
	algoID       uint8
	digest       *[48]byte
	digestLength uint32
}

/*
reportRequest is the structure used to create TDX reports.

	#
	# Reference: Structure of tdx_report_req
	#
	# struct tdx_report_req {
	#        __u8  subtype;
	#        __u64 reportdata;
	#        __u32 rpd_len;
	#        __u64 tdreport;
	#        __u32 tdr_len;
	# };
	#
*/
type reportRequest struct {
	subtype          uint8
	reportData       *[64]byte
	reportDataLength uint32
	tdReport         *[1024]byte
	tdReportLength   uint32
}

// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/71557c7d1d869b6bd6f95566c051cbd098549509/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L84-L95
type quoteRequestHeader struct {
	version      uint64
	status       uint64
	inputLength  uint32
	outputLength uint32
	data         *[16360]byte // Intel defines this as "__u64 data[0]" but uses malloc to reserve more memory underneath.
}

// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L82-L86
type quoteRequest struct {
	blob   uintptr
	length uintptr // size_t / uint64_t
}

// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L71-L77
type qgsMessageHeader struct {
	majorVersion uint16
	minorVersion uint16
	messageType  uint32 // type but this is a reserved word in Go
	size         uint32 // size of the whole message, including this header, in bytes
	errorCode    uint32
}

func (h qgsMessageHeader) marshal() []byte {
	out := make([]byte, qgsMessageHeaderSize)
	binary.LittleEndian.PutUint16(out[0:2], h.majorVersion)
	binary.LittleEndian.PutUint16(out[2:4], h.minorVersion)
	binary.LittleEndian.PutUint32(out[4:8], h.messageType)
	binary.LittleEndian.PutUint32(out[8:12], h.size)
	binary.LittleEndian.PutUint32(out[12:16], h.errorCode)
	return out
}

// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L79-L84
type qgsGetQuoteRequestMessage struct {
	header         qgsMessageHeader
	reportSize     uint32 // cannot be 0
	selectedIDSize uint32 // can be 0
	idListSize     uint32 // can be 0
}
