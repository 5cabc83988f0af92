package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quotekit/quotectl/internal/clierror"
	"github.com/quotekit/quotectl/internal/quotefile"
	"github.com/quotekit/quotectl/verification/collateral"
	"github.com/spf13/cobra"
)

func newVerifyCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <quote-file>",
		Short: "Verify a quote against freshly retrieved collateral",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isHex, _ := cmd.Flags().GetBool("hex")
			return r.runVerify(cmd.Context(), args[0], isHex)
		},
	}
	cmd.Flags().Bool("hex", false, "treat the quote file as hex encoded text")
	return cmd
}

func (r *runner) runVerify(ctx context.Context, path string, isHex bool) error {
	rawQuote, err := quotefile.Read(path, isHex)
	if err != nil {
		return err
	}

	source := collateral.Resolve(r.getenv(pccsURLEnv))
	coll, err := r.newRetriever(source).Get(ctx, rawQuote)
	if err != nil {
		return clierror.Wrap(clierror.KindRetrieval, "Failed to get collateral", err)
	}

	now := r.clock.Now()
	report, err := r.newVerifier().Verify(rawQuote, coll, now)
	if err != nil {
		return clierror.Wrap(clierror.KindVerify, "Failed to verify quote", err)
	}

	out, err := json.Marshal(report)
	if err != nil {
		return clierror.Wrap(clierror.KindVerify, "Failed to serialize verification report", err)
	}
	fmt.Fprintln(r.out, string(out))

	fmt.Fprintln(r.diag, "Quote verified")
	return nil
}
