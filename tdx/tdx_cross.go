//go:build !linux

package tdx

import "errors"

// GuestDevice is the path to the TDX guest device.
const GuestDevice = "/dev/tdx-guest"

// Device is a handle to the TDX guest device.
type Device interface {
	Fd() uintptr
}

// ExtendRTMR extends the RTMR at the given index with the SHA-384 hash of the
// given data.
func ExtendRTMR(_ Device, _ []byte, _ uint8) error {
	return errors.New("extending RTMRs is only supported on linux")
}

// ReadMeasurements reads the MRTD and RTMRs of a TDX guest.
func ReadMeasurements(_ Device) ([5][48]byte, error) {
	return [5][48]byte{}, errors.New("reading measurements is only supported on linux")
}

// GenerateQuote generates a TDX quote for the given user data.
// User data may not be longer than 64 bytes.
func GenerateQuote(_ Device, _ []byte) ([]byte, error) {
	return nil, errors.New("generating quotes is only supported on linux")
}
