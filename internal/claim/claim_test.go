package claim

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingdrop/internal/broadcast"
	"github.com/Klingon-tech/klingdrop/internal/derive"
	"github.com/Klingon-tech/klingdrop/internal/drop"
	"github.com/Klingon-tech/klingdrop/internal/esplora"
	"github.com/Klingon-tech/klingdrop/internal/fee"
	"github.com/Klingon-tech/klingdrop/internal/journal"
	"github.com/Klingon-tech/klingdrop/internal/ledger"
	"github.com/Klingon-tech/klingdrop/internal/storage"
	"github.com/Klingon-tech/klingdrop/internal/utxo"
)

const (
	esploraBase = "https://esplora.test/api"
	contractID  = "drop.testnet"
	networkID   = "testnet"
)

// scriptedLedger answers claim calls with a fixed outcome.
type scriptedLedger struct {
	mu        sync.Mutex
	out       *ledger.Outcome
	err       error
	statusOut *ledger.Outcome
	args      []string
	statuses  []string
}

func (l *scriptedLedger) ViewFunction(context.Context, string, string, []byte, uint64) (*ledger.Outcome, error) {
	return nil, errors.New("unexpected view")
}

func (l *scriptedLedger) FunctionCall(_ context.Context, _ *ledger.Credential, _, _ string, args []byte, _ uint64) (*ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.args = append(l.args, string(args))
	return l.out, l.err
}

func (l *scriptedLedger) TxStatus(_ context.Context, txHash, _ string) (*ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, txHash)
	return l.statusOut, nil
}

func (l *scriptedLedger) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.args...)
}

// stateLog is a journal store that remembers the state of every write.
type stateLog struct {
	storage.DB
	mu     sync.Mutex
	states []journal.State
}

func (s *stateLog) Put(key, value []byte) error {
	var rec journal.Record
	if err := json.Unmarshal(value, &rec); err == nil {
		s.mu.Lock()
		s.states = append(s.states, rec.State)
		s.mu.Unlock()
	}
	return s.DB.Put(key, value)
}

func (s *stateLog) written() []journal.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.State(nil), s.states...)
}

type harness struct {
	claimer  *Claimer
	ledger   *scriptedLedger
	journal  *journal.Journal
	log      *stateLog
	receiver string
}

func newHarness(t *testing.T, withBroadcast bool) *harness {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	explorer := esplora.NewWithClient(esploraBase, httpClient)

	l := &scriptedLedger{}
	keyring := ledger.NewKeyring()
	seed := make([]byte, ed25519.SeedSize)
	require.NoError(t, keyring.Set(ledger.NewCredential(networkID, contractID, ed25519.NewKeyFromSeed(seed))))
	exec := ledger.NewExecutor(l, keyring, networkID, ledger.WithSleep(func(time.Duration) {}))

	log := &stateLog{DB: storage.NewMemory()}
	j := journal.New(log)
	opts := []Option{WithJournal(j)}
	if withBroadcast {
		opts = append(opts, WithBroadcaster(broadcast.New(explorer)))
	}

	c := New(
		utxo.NewSelector(explorer),
		fee.NewCalculator(explorer),
		drop.New(exec, contractID, "owner.testnet"),
		&chaincfg.TestNet3Params,
		opts...,
	)

	priv := secp256k1.PrivKeyFromBytes(bytes.Repeat([]byte{7}, 32))
	receiver, err := derive.FundingAddress(hex.EncodeToString(priv.PubKey().SerializeUncompressed()), &chaincfg.TestNet3Params)
	require.NoError(t, err)

	return &harness{claimer: c, ledger: l, journal: j, log: log, receiver: receiver}
}

func fundAddress(address, utxos string) {
	httpmock.RegisterResponder("GET", esploraBase+"/address/"+address+"/utxo",
		httpmock.NewStringResponder(200, utxos))
}

func setFeeRate(estimates string) {
	httpmock.RegisterResponder("GET", esploraBase+"/fee-estimates",
		httpmock.NewStringResponder(200, estimates))
}

// signedTx returns a serialized transaction and its txid.
func signedTx(t *testing.T) (string, string) {
	t.Helper()
	prev, err := chainhash.NewHashFromStr(strings.Repeat("ab", 32))
	require.NoError(t, err)

	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prev, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(546, []byte{0x76, 0xa9}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String()
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(b)
}

func TestClaim_EndToEnd(t *testing.T) {
	h := newHarness(t, true)
	fundAddress("funder", `[{"txid":"a","vout":0,"value":700000},{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)

	rawHex, txid := signedTx(t)
	h.ledger.out = ledger.SuccessOutcome("nearhash", jsonString(rawHex))

	var posted string
	httpmock.RegisterResponder("POST", esploraBase+"/tx",
		func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			posted = string(b)
			return httpmock.NewStringResponse(200, txid), nil
		})

	out, err := h.claimer.Claim(context.Background(), Drop{
		FundingAddress: "funder",
		Receiver:       h.receiver,
		DropSats:       546,
	})
	require.NoError(t, err)

	assert.Equal(t, "b", out.Request.UTXO.TxID)
	assert.Equal(t, int64(899228), out.Request.ChangeSats)
	assert.Equal(t, int64(226), out.Request.Fee())

	calls := h.ledger.calls()
	require.Len(t, calls, 1)
	assert.JSONEq(t,
		`{"txid_str":"b","vout":0,"receiver":"`+h.receiver+`","change":"899228"}`,
		calls[0])

	assert.Equal(t, "nearhash", out.TxHash)
	assert.Equal(t, txid, out.TxID)
	assert.Equal(t, rawHex, posted)
	assert.NoError(t, out.BroadcastErr)
	assert.False(t, out.Recovered)
	assert.NotEmpty(t, out.Attempt)

	rec, err := h.journal.Get(journal.RecordID("funder", "b", 0))
	require.NoError(t, err)
	assert.Equal(t, journal.StateBroadcast, rec.State)
	assert.Equal(t, out.Attempt, rec.Attempt)
	assert.Equal(t, rawHex, rec.Result)
	assert.Equal(t, []journal.State{
		journal.StateSelected,
		journal.StateSubmitted,
		journal.StateBroadcast,
	}, h.log.written())
}

func TestClaim_BroadcastFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, true)
	fundAddress("funder", `[{"txid":"b","vout":1,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)

	rawHex, _ := signedTx(t)
	h.ledger.out = ledger.SuccessOutcome("nearhash", jsonString(rawHex))
	httpmock.RegisterResponder("POST", esploraBase+"/tx",
		httpmock.NewStringResponder(400, "bad-txns-inputs-missingorspent"))

	out, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	require.NoError(t, err)

	var be *broadcast.Error
	require.ErrorAs(t, out.BroadcastErr, &be)
	assert.Equal(t, 400, be.Status)
	assert.NotEmpty(t, out.SignedTx)

	rec, err := h.journal.Get(journal.RecordID("funder", "b", 1))
	require.NoError(t, err)
	assert.Equal(t, journal.StateSigned, rec.State)
	assert.Contains(t, rec.Error, "bad-txns")
}

func TestClaim_WithoutBroadcaster(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)

	rawHex, txid := signedTx(t)
	h.ledger.out = ledger.SuccessOutcome("nearhash", jsonString(rawHex))

	out, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	require.NoError(t, err)
	assert.Equal(t, txid, out.TxID)
	assert.Equal(t, 0, httpmock.GetCallCountInfo()["POST "+esploraBase+"/tx"])
}

func TestClaim_InsufficientChangeIsNotSubmitted(t *testing.T) {
	h := newHarness(t, true)
	fundAddress("funder", `[{"txid":"small","vout":0,"value":700}]`)
	setFeeRate(`{"6":1.0}`)

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver, DropSats: 546})
	assert.ErrorIs(t, err, ErrInsufficientChange)
	assert.Empty(t, h.ledger.calls())

	rec, err := h.journal.Get(journal.RecordID("funder", "small", 0))
	require.NoError(t, err)
	assert.Equal(t, journal.StateRejected, rec.State)
	assert.Equal(t, int64(700-546-226), rec.ChangeSats)
}

func TestClaim_ZeroChangeIsRejected(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"exact","vout":0,"value":772}]`)
	setFeeRate(`{"6":1.0}`)

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver, DropSats: 546})
	assert.ErrorIs(t, err, ErrInsufficientChange)
	assert.Empty(t, h.ledger.calls())
}

func TestClaim_NoUTXO(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("empty", `[]`)

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "empty", Receiver: h.receiver})
	assert.ErrorIs(t, err, utxo.ErrNotFound)
	assert.Empty(t, h.ledger.calls())
	assert.Equal(t, 0, httpmock.GetCallCountInfo()["GET "+esploraBase+"/fee-estimates"])
}

func TestClaim_InvalidReceiver(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.claimer.Claim(context.Background(), Drop{
		FundingAddress: "funder",
		Receiver:       "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
	})
	assert.ErrorIs(t, err, derive.ErrInvalidReceiver)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestClaim_FeeEstimateMissing(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"2":3.0}`)

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	assert.ErrorIs(t, err, esplora.ErrNoEstimate)
	assert.Empty(t, h.ledger.calls())
}

func TestClaim_SigningFailed(t *testing.T) {
	h := newHarness(t, true)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)
	h.ledger.out = ledger.SuccessOutcome("nearhash", jsonString("Callback failed"))

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	assert.ErrorIs(t, err, drop.ErrSigningFailed)

	rec, err := h.journal.Get(journal.RecordID("funder", "b", 0))
	require.NoError(t, err)
	assert.Equal(t, journal.StateFailed, rec.State)
	assert.Equal(t, "nearhash", rec.TxHash)
}

func TestClaim_DeserializationError(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)
	h.ledger.err = errors.New("Failed to deserialize input from JSON")

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	var de *ledger.DeserializationError
	assert.ErrorAs(t, err, &de)
	h.ledger.mu.Lock()
	assert.Empty(t, h.ledger.statuses)
	h.ledger.mu.Unlock()
}

func TestClaim_TimeoutRecovered(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)

	rawHex, txid := signedTx(t)
	h.ledger.err = &ledger.PendingTxError{TxHash: "abc123", Err: errors.New("TIMEOUT_ERROR")}
	h.ledger.statusOut = ledger.SuccessOutcome("abc123", jsonString(rawHex))

	out, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	require.NoError(t, err)
	assert.True(t, out.Recovered)
	assert.Equal(t, "abc123", out.TxHash)
	assert.Equal(t, txid, out.TxID)
	assert.Equal(t, []string{"abc123"}, h.ledger.statuses)
}

func TestClaim_TimeoutWithUnfinishedTransactionFails(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)

	h.ledger.err = &ledger.PendingTxError{TxHash: "abc123", Err: errors.New("TIMEOUT_ERROR")}
	h.ledger.statusOut = &ledger.Outcome{TxHash: "abc123", Status: ledger.ExecutionStatus{Pending: "Started"}}

	out, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ledger.ErrNotFinal)
	assert.Equal(t, []string{"abc123"}, h.ledger.statuses)

	rec, err := h.journal.Get(journal.RecordID("funder", "b", 0))
	require.NoError(t, err)
	assert.Equal(t, journal.StateFailed, rec.State)
	assert.Equal(t, "abc123", rec.TxHash)
}

func TestClaim_UndecodableResult(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)
	h.ledger.out = ledger.SuccessOutcome("nearhash", "%%%not-base64")

	out, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	require.NoError(t, err)
	assert.Nil(t, out.SignedTx)
	assert.Error(t, out.DecodeErr)

	rec, err := h.journal.Get(journal.RecordID("funder", "b", 0))
	require.NoError(t, err)
	assert.Equal(t, journal.StateSubmitted, rec.State)
	assert.Equal(t, "nearhash", rec.TxHash)
}

func TestClaim_NonHexResult(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder", `[{"txid":"b","vout":0,"value":900000}]`)
	setFeeRate(`{"6":1.0}`)
	h.ledger.out = ledger.SuccessOutcome("nearhash", jsonString("not hex"))

	_, err := h.claimer.Claim(context.Background(), Drop{FundingAddress: "funder", Receiver: h.receiver})
	assert.ErrorIs(t, err, drop.ErrUnexpectedResult)
}

func TestClaimAll(t *testing.T) {
	h := newHarness(t, false)
	fundAddress("funder1", `[{"txid":"x","vout":0,"value":900000}]`)
	fundAddress("funder2", `[]`)
	setFeeRate(`{"6":1.0}`)
	rawHex, _ := signedTx(t)
	h.ledger.out = ledger.SuccessOutcome("nearhash", jsonString(rawHex))

	results, err := h.claimer.ClaimAll(context.Background(), []Drop{
		{FundingAddress: "funder1", Receiver: h.receiver},
		{FundingAddress: "funder2", Receiver: h.receiver},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, "x", results[0].Outcome.Request.UTXO.TxID)

	assert.ErrorIs(t, results[1].Err, utxo.ErrNotFound)
	assert.Nil(t, results[1].Outcome)
}

func TestClaimAll_RejectsDuplicateFunding(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.claimer.ClaimAll(context.Background(), []Drop{
		{FundingAddress: "same", Receiver: h.receiver},
		{FundingAddress: "same", Receiver: h.receiver},
	})
	assert.ErrorIs(t, err, ErrDuplicateFunding)
	assert.Zero(t, httpmock.GetTotalCallCount())
}
