// Package cmd implements the quotectl subcommands.
package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/quotekit/quotectl/verification"
	"github.com/quotekit/quotectl/verification/collateral"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"
)

// pccsURLEnv configures a custom collateral caching service. Unset or empty
// selects the Intel PCS.
const pccsURLEnv = "PCCS_URL"

// exportFilename is the file the collateral command writes its export to.
const exportFilename = "quote_collateral.json"

// collateralGetter fetches collateral for a quote.
type collateralGetter interface {
	Get(ctx context.Context, rawQuote []byte) (collateral.Collateral, error)
}

// quoteVerifier verifies a quote against collateral at a reference time.
type quoteVerifier interface {
	Verify(rawQuote []byte, coll collateral.Collateral, now time.Time) (verification.Report, error)
}

// runner carries the dependencies of the subcommands, so tests can replace
// the clock, environment, output streams, and external collaborators.
type runner struct {
	out  io.Writer
	diag io.Writer

	clock        clock.PassiveClock
	getenv       func(string) string
	log          *zap.Logger
	newRetriever func(source collateral.Source) collateralGetter
	newVerifier  func() quoteVerifier
	exportPath   string
}

func defaultRunner() *runner {
	r := &runner{
		out:        os.Stdout,
		diag:       os.Stderr,
		clock:      clock.RealClock{},
		getenv:     os.Getenv,
		log:        zap.NewNop(),
		exportPath: exportFilename,
	}
	r.newRetriever = func(source collateral.Source) collateralGetter {
		return collateral.New(source, collateral.WithDiagnostics(r.diag), collateral.WithLogger(r.log))
	}
	r.newVerifier = func() quoteVerifier {
		return verification.New()
	}
	return r
}

// Execute runs quotectl.
func Execute() error {
	return newRootCmd(defaultRunner()).Execute()
}

func newRootCmd(r *runner) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quotectl",
		Short: "Decode and verify Intel TDX attestation quotes",
		Long: "quotectl decodes Intel TDX attestation quotes, retrieves verification\n" +
			"collateral from the Intel PCS or a custom caching service, and verifies\n" +
			"quotes against it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				r.log = newVerboseLogger(r.diag)
			}
		},
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose logging")

	rootCmd.AddCommand(
		newDecodeCmd(r),
		newVerifyCmd(r),
		newCollateralCmd(r),
		newGenerateCmd(r),
		newMeasurementsCmd(r),
	)
	return rootCmd
}

func newVerboseLogger(w io.Writer) *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), zap.DebugLevel))
}
