package types

import (
	"testing"
	"time"

	"github.com/quotekit/quotectl/verification/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTCBInfoJSON = `{
	"id": "TDX",
	"version": 3,
	"issueDate": "2023-05-01T00:00:00Z",
	"nextUpdate": "2023-07-01T00:00:00Z",
	"fmspc": "00906ea10000",
	"pceid": "0000",
	"tcbType": 0,
	"tcbEvaluationDataNumber": 16,
	"tdxModule": {
		"mrSigner": "000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000",
		"attributes": "0000000000000000",
		"attributesMask": "ffffffffffffffff"
	},
	"tcbLevels": [
		{
			"tcb": {
				"sgxtcbcomponents": [{"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}],
				"pcesvn": 11,
				"tdxtcbcomponents": [{"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}, {"svn": 2}]
			},
			"tcbDate": "2023-03-15T00:00:00Z",
			"tcbStatus": "UpToDate"
		},
		{
			"tcb": {
				"sgxtcbcomponents": [{"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}],
				"pcesvn": 9,
				"tdxtcbcomponents": [{"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}, {"svn": 1}]
			},
			"tcbDate": "2022-08-10T00:00:00Z",
			"tcbStatus": "OutOfDate",
			"advisoryIDs": ["INTEL-SA-00586"]
		}
	]
}`

func TestTCBInfoUnmarshal(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	var tcbInfo TCBInfo
	require.NoError(tcbInfo.UnmarshalJSON([]byte(testTCBInfoJSON)))

	assert.Equal("TDX", tcbInfo.ID)
	assert.EqualValues(3, tcbInfo.Version)
	assert.Equal(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), tcbInfo.IssueDate)
	assert.Equal([6]byte{0x00, 0x90, 0x6e, 0xa1, 0x00, 0x00}, tcbInfo.FMSPC)
	assert.Equal([2]byte{0x00, 0x00}, tcbInfo.PCEID)
	assert.EqualValues(uint64(0xffffffffffffffff), tcbInfo.TDXModule.SEAMAttributesMask)
	require.Len(tcbInfo.TCBLevels, 2)
	assert.Equal(status.UpToDate, tcbInfo.TCBLevels[0].TCBStatus)
	assert.Equal([]string{"INTEL-SA-00586"}, tcbInfo.TCBLevels[1].AdvisoryIDs)
}

func TestTCBLevelFor(t *testing.T) {
	var tcbInfo TCBInfo
	require.NoError(t, tcbInfo.UnmarshalJSON([]byte(testTCBInfoJSON)))

	svns := func(svn int) [16]int {
		var out [16]int
		for i := range out {
			out[i] = svn
		}
		return out
	}
	bsvns := func(svn byte) [16]byte {
		var out [16]byte
		for i := range out {
			out[i] = svn
		}
		return out
	}

	testCases := map[string]struct {
		pckTCB     PCKTCB
		teeTCBSVN  [16]byte
		wantStatus status.TCBStatus
		wantErr    bool
	}{
		"matches highest level": {
			pckTCB:     PCKTCB{TCBSVN: svns(2), PCESVN: 11},
			teeTCBSVN:  bsvns(2),
			wantStatus: status.UpToDate,
		},
		"above highest level": {
			pckTCB:     PCKTCB{TCBSVN: svns(3), PCESVN: 12},
			teeTCBSVN:  bsvns(3),
			wantStatus: status.UpToDate,
		},
		"pcesvn below highest level": {
			pckTCB:     PCKTCB{TCBSVN: svns(2), PCESVN: 10},
			teeTCBSVN:  bsvns(2),
			wantStatus: status.OutOfDate,
		},
		"sgx component below highest level": {
			pckTCB:     PCKTCB{TCBSVN: svns(1), PCESVN: 11},
			teeTCBSVN:  bsvns(2),
			wantStatus: status.OutOfDate,
		},
		"tdx component below highest level": {
			pckTCB:     PCKTCB{TCBSVN: svns(2), PCESVN: 11},
			teeTCBSVN:  bsvns(1),
			wantStatus: status.OutOfDate,
		},
		"below all levels": {
			pckTCB:    PCKTCB{TCBSVN: svns(0), PCESVN: 1},
			teeTCBSVN: bsvns(0),
			wantErr:   true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			level, err := tcbInfo.TCBLevelFor(tc.pckTCB, tc.teeTCBSVN)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, level.TCBStatus)
		})
	}
}

const testQEIdentityJSON = `{
	"id": "TD_QE",
	"version": 2,
	"issueDate": "2023-05-01T00:00:00Z",
	"nextUpdate": "2023-07-01T00:00:00Z",
	"tcbEvaluationDataNumber": 16,
	"miscselect": "00000000",
	"miscselectMask": "ffffffff",
	"attributes": "11000000000000000000000000000000",
	"attributesMask": "fbffffffffffffff0000000000000000",
	"mrSigner": "dc9e2a7c6f948f17474e34a7fc43ed030f7c1563f1babddf6340c82e0e54a8c5",
	"isvprodid": 2,
	"tcbLevels": [
		{
			"tcb": {"isvsvn": 4},
			"tcbDate": "2023-03-15T00:00:00Z",
			"tcbStatus": "UpToDate"
		},
		{
			"tcb": {"isvsvn": 2},
			"tcbDate": "2022-08-10T00:00:00Z",
			"tcbStatus": "OutOfDate"
		}
	]
}`

func TestQEIdentityUnmarshal(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	var qeIdentity QEIdentity
	require.NoError(qeIdentity.UnmarshalJSON([]byte(testQEIdentityJSON)))

	assert.Equal("TD_QE", qeIdentity.ID)
	assert.EqualValues(2, qeIdentity.Version)
	assert.EqualValues(0, qeIdentity.MiscSelect)
	assert.EqualValues(0xffffffff, qeIdentity.MiscSelectMask)
	assert.Equal(byte(0x11), qeIdentity.Attributes[0])
	assert.EqualValues(2, qeIdentity.ISVProdID)
	require.Len(qeIdentity.TCBLevels, 2)
}

func TestQETCBStatusFor(t *testing.T) {
	var qeIdentity QEIdentity
	require.NoError(t, qeIdentity.UnmarshalJSON([]byte(testQEIdentityJSON)))

	testCases := map[string]struct {
		isvSVN uint16
		want   status.TCBStatus
	}{
		"at latest level":      {isvSVN: 4, want: status.UpToDate},
		"above latest level":   {isvSVN: 9, want: status.UpToDate},
		"at older level":       {isvSVN: 2, want: status.OutOfDate},
		"between levels":       {isvSVN: 3, want: status.OutOfDate},
		"below all levels":     {isvSVN: 1, want: status.Revoked},
		"zero is below levels": {isvSVN: 0, want: status.Revoked},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, qeIdentity.TCBStatusFor(tc.isvSVN))
		})
	}
}
