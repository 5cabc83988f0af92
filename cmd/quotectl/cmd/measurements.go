package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/quotekit/quotectl/tdx"
	"github.com/spf13/cobra"
)

func newMeasurementsCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "measurements",
		Short: "Read the measurement registers of a TDX guest",
		Long:  "Read MRTD and the runtime measurement registers of this TDX guest.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return r.runMeasurements()
		},
	}
}

func (r *runner) runMeasurements() error {
	device, err := os.Open(tdx.GuestDevice)
	if err != nil {
		return fmt.Errorf("opening TDX guest device: %w", err)
	}
	defer device.Close()

	measurements, err := tdx.ReadMeasurements(device)
	if err != nil {
		return fmt.Errorf("reading measurements: %w", err)
	}

	out, err := json.Marshal(map[string]string{
		"mrtd":  hex.EncodeToString(measurements[0][:]),
		"rtmr0": hex.EncodeToString(measurements[1][:]),
		"rtmr1": hex.EncodeToString(measurements[2][:]),
		"rtmr2": hex.EncodeToString(measurements[3][:]),
		"rtmr3": hex.EncodeToString(measurements[4][:]),
	})
	if err != nil {
		return fmt.Errorf("serializing measurements: %w", err)
	}
	fmt.Fprintln(r.out, string(out))
	return nil
}
