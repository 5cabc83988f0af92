package verification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/quotekit/quotectl/internal/quotetest"
	"github.com/quotekit/quotectl/verification/collateral"
	"github.com/quotekit/quotectl/verification/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// forgedVerifier returns a Verifier trusting the forge's root CA instead of
// the Intel SGX Root CA.
func forgedVerifier(forge *quotetest.Forge) *Verifier {
	return &Verifier{roots: forge.RootPool()}
}

func toCollateral(parts quotetest.CollateralParts) collateral.Collateral {
	return collateral.Collateral{
		TCBInfoIssuerChain:    parts.TCBInfoIssuerChain,
		TCBInfo:               json.RawMessage(parts.TCBInfo),
		TCBInfoSignature:      parts.TCBInfoSignature,
		QEIdentityIssuerChain: parts.QEIdentityIssuerChain,
		QEIdentity:            json.RawMessage(parts.QEIdentity),
		QEIdentitySignature:   parts.QEIdentitySignature,
	}
}

func TestVerify(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	forge := quotetest.New(t)
	rawQuote := forge.Quote()
	coll := toCollateral(forge.Collateral())
	verifier := forgedVerifier(forge)

	report, err := verifier.Verify(rawQuote, coll, quotetest.Now)
	require.NoError(err)
	assert.Equal(status.UpToDate, report.Status)
	assert.Empty(report.AdvisoryIDs)

	// identical inputs must yield an identical report
	again, err := verifier.Verify(rawQuote, coll, quotetest.Now)
	require.NoError(err)
	assert.Equal(report, again)
}

func TestVerifyAcceptsAnyMeasuredWorkload(t *testing.T) {
	require := require.New(t)

	// MRTD, RTMRs, and report data are attested values, not verified ones; a
	// freshly signed quote over any of them verifies.
	forge := quotetest.New(t)
	body := forge.Body()
	body.MRTD = [48]byte{0x99, 0x88, 0x77}
	body.RTMR[0] = [48]byte{0x01}
	body.ReportData = [64]byte{0xfe}

	report, err := forgedVerifier(forge).Verify(forge.QuoteWithBody(body), toCollateral(forge.Collateral()), quotetest.Now)
	require.NoError(err)
	require.Equal(status.UpToDate, report.Status)
}

func TestVerifyReportsOutOfDateTCB(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	forge := quotetest.New(t)

	tcbInfo := forge.TCBInfoDoc()
	tcbInfo.TCBLevels[0].TCBStatus = "OutOfDate"
	tcbInfo.TCBLevels[0].AdvisoryIDs = []string{"INTEL-SA-00586"}
	coll := toCollateral(forge.CollateralWith(tcbInfo, forge.QEIdentityDoc()))

	report, err := forgedVerifier(forge).Verify(forge.Quote(), coll, quotetest.Now)
	require.NoError(err)
	assert.Equal(status.OutOfDate, report.Status)
	assert.Equal([]string{"INTEL-SA-00586"}, report.AdvisoryIDs)
}

func TestVerifyRejects(t *testing.T) {
	forge := quotetest.New(t)
	defaultQuote := forge.Quote()
	defaultColl := toCollateral(forge.Collateral())

	testCases := map[string]struct {
		rawQuote   []byte
		collateral collateral.Collateral
		now        time.Time
		wantErr    string
	}{
		"unparseable quote": {
			rawQuote:   []byte{0xde, 0xad},
			collateral: defaultColl,
			now:        quotetest.Now,
			wantErr:    "parsing TDX quote",
		},
		"tampered quote signature": {
			rawQuote: func() []byte {
				quote := forge.Quote()
				quote[636] ^= 0xff // first byte of the quote signature
				return quote
			}(),
			collateral: defaultColl,
			now:        quotetest.Now,
			wantErr:    "verifying quote signature",
		},
		"wrong TDX module signer": {
			rawQuote: func() []byte {
				body := forge.Body()
				body.MRSIGNERSEAM[0] ^= 0xff
				return forge.QuoteWithBody(body)
			}(),
			collateral: defaultColl,
			now:        quotetest.Now,
			wantErr:    "MRSigner in TDX module",
		},
		"tcb info expired": {
			rawQuote:   defaultQuote,
			collateral: defaultColl,
			now:        quotetest.Now.Add(90 * 24 * time.Hour),
			wantErr:    "expired",
		},
		"before certificates and tcb info are valid": {
			rawQuote:   defaultQuote,
			collateral: defaultColl,
			now:        quotetest.Now.Add(-2 * 365 * 24 * time.Hour),
		},
		"tampered tcb info": {
			rawQuote: defaultQuote,
			collateral: func() collateral.Collateral {
				coll := toCollateral(forge.Collateral())
				tampered := make(json.RawMessage, len(coll.TCBInfo))
				copy(tampered, coll.TCBInfo)
				tampered[len(tampered)-2] ^= 0x01
				coll.TCBInfo = tampered
				return coll
			}(),
			now:     quotetest.Now,
			wantErr: "verifying TCB Info",
		},
		"empty collateral": {
			rawQuote:   defaultQuote,
			collateral: collateral.Collateral{},
			now:        quotetest.Now,
			wantErr:    "verifying TCB Info",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := forgedVerifier(forge).Verify(tc.rawQuote, tc.collateral, tc.now)
			require.Error(t, err)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestVerifyRejectsRevokedTCBLevel(t *testing.T) {
	require := require.New(t)

	forge := quotetest.New(t)
	tcbInfo := forge.TCBInfoDoc()
	tcbInfo.TCBLevels[0].TCBStatus = "Revoked"
	coll := toCollateral(forge.CollateralWith(tcbInfo, forge.QEIdentityDoc()))

	_, err := forgedVerifier(forge).Verify(forge.Quote(), coll, quotetest.Now)
	require.ErrorContains(err, "revoked")
}

func TestVerifyRejectsRevokedQE(t *testing.T) {
	require := require.New(t)

	forge := quotetest.New(t)
	qeIdentity := forge.QEIdentityDoc()
	// raise the minimum ISVSVN above the forged QE's
	qeIdentity.TCBLevels[0].TCB.ISVSVN = quotetest.QEISVSVN + 1
	coll := toCollateral(forge.CollateralWith(forge.TCBInfoDoc(), qeIdentity))

	_, err := forgedVerifier(forge).Verify(forge.Quote(), coll, quotetest.Now)
	require.ErrorContains(err, "revoked")
}

func TestVerifyRejectsWrongQEIdentity(t *testing.T) {
	require := require.New(t)

	forge := quotetest.New(t)
	qeIdentity := forge.QEIdentityDoc()
	qeIdentity.MRSigner = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	coll := toCollateral(forge.CollateralWith(forge.TCBInfoDoc(), qeIdentity))

	_, err := forgedVerifier(forge).Verify(forge.Quote(), coll, quotetest.Now)
	require.ErrorContains(err, "MRSIGNER")
}

func TestVerifyRejectsNoMatchingTCBLevel(t *testing.T) {
	require := require.New(t)

	forge := quotetest.New(t)
	tcbInfo := forge.TCBInfoDoc()
	for i := range tcbInfo.TCBLevels[0].TCB.SGXComponents {
		tcbInfo.TCBLevels[0].TCB.SGXComponents[i].SVN = 200
	}
	coll := toCollateral(forge.CollateralWith(tcbInfo, forge.QEIdentityDoc()))

	_, err := forgedVerifier(forge).Verify(forge.Quote(), coll, quotetest.Now)
	require.ErrorContains(err, "no TCB level matches")
}

func TestVerifyUntrustedRoot(t *testing.T) {
	require := require.New(t)

	// collateral and quote from one forge, verifier trusting another root
	forge := quotetest.New(t)
	other := quotetest.New(t)

	_, err := forgedVerifier(other).Verify(forge.Quote(), toCollateral(forge.Collateral()), quotetest.Now)
	require.Error(err)
}

func TestNewUsesPinnedIntelRoot(t *testing.T) {
	require := require.New(t)

	verifier := New()
	require.NotNil(verifier.roots)

	// a quote forged with a different root must not verify
	forge := quotetest.New(t)
	_, err := verifier.Verify(forge.Quote(), toCollateral(forge.Collateral()), quotetest.Now)
	require.Error(err)
}
