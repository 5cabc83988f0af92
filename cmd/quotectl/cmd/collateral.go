package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/quotekit/quotectl/internal/clierror"
	"github.com/quotekit/quotectl/internal/quotefile"
	"github.com/quotekit/quotectl/verification/collateral"
	"github.com/spf13/cobra"
)

func newCollateralCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collateral <quote-file>",
		Short: "Retrieve the collateral matching a quote and export it",
		Long: "Retrieve the collateral matching a quote, print it, and write it to\n" +
			exportFilename + " in the current working directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isHex, _ := cmd.Flags().GetBool("hex")
			return r.runCollateral(cmd.Context(), args[0], isHex)
		},
	}
	cmd.Flags().Bool("hex", false, "treat the quote file as hex encoded text")
	return cmd
}

func (r *runner) runCollateral(ctx context.Context, path string, isHex bool) error {
	rawQuote, err := quotefile.Read(path, isHex)
	if err != nil {
		return err
	}

	source := collateral.Resolve(r.getenv(pccsURLEnv))
	coll, err := r.newRetriever(source).Get(ctx, rawQuote)
	if err != nil {
		return clierror.Wrap(clierror.KindRetrieval, "Failed to get collateral", err)
	}

	fmt.Fprintf(r.out, "%+v\n", coll)

	export, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return clierror.Wrap(clierror.KindRetrieval, "Failed to serialize collateral", err)
	}
	if err := os.WriteFile(r.exportPath, export, 0o644); err != nil {
		return clierror.Wrap(clierror.KindRetrieval, "Failed to write collateral file", err)
	}
	return nil
}
