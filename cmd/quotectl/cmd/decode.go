package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/quotekit/quotectl/internal/clierror"
	"github.com/quotekit/quotectl/internal/quotefile"
	"github.com/quotekit/quotectl/verification/types"
	"github.com/spf13/cobra"
)

func newDecodeCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <quote-file>",
		Short: "Decode a quote and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isHex, _ := cmd.Flags().GetBool("hex")
			return r.runDecode(args[0], isHex)
		},
	}
	cmd.Flags().Bool("hex", false, "treat the quote file as hex encoded text")
	return cmd
}

func (r *runner) runDecode(path string, isHex bool) error {
	rawQuote, err := quotefile.Read(path, isHex)
	if err != nil {
		return err
	}

	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return clierror.Wrap(clierror.KindParse, "Failed to decode quote", err)
	}

	out, err := json.Marshal(quote)
	if err != nil {
		return clierror.Wrap(clierror.KindParse, "Failed to serialize quote", err)
	}
	fmt.Fprintln(r.out, string(out))
	return nil
}
