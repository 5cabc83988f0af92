package cmd

import (
	"fmt"
	"os"

	"github.com/quotekit/quotectl/tdx"
	"github.com/spf13/cobra"
)

func newGenerateCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <output-file>",
		Short: "Generate a quote on a TDX guest",
		Long: "Generate a quote for this machine using the TDX guest device and write\n" +
			"it to the given file. Only works inside a TDX guest.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userData, _ := cmd.Flags().GetString("user-data")
			return r.runGenerate(args[0], []byte(userData))
		},
	}
	cmd.Flags().String("user-data", "", "up to 64 bytes of user data to bind into the quote")
	return cmd
}

func (r *runner) runGenerate(outputPath string, userData []byte) error {
	device, err := os.Open(tdx.GuestDevice)
	if err != nil {
		return fmt.Errorf("opening TDX guest device: %w", err)
	}
	defer device.Close()

	quote, err := tdx.GenerateQuote(device, userData)
	if err != nil {
		return fmt.Errorf("generating quote: %w", err)
	}

	if err := os.WriteFile(outputPath, quote, 0o644); err != nil {
		return fmt.Errorf("writing quote file: %w", err)
	}
	fmt.Fprintf(r.diag, "Quote written to %s\n", outputPath)
	return nil
}
