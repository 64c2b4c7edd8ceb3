// Package broadcast submits already-signed raw transactions to an external
// relay. Delivery is best effort: failures are logged and handed back as a
// non-fatal *Error for the caller to resubmit later if it wants.
package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
)

// Relay posts a raw transaction and returns the txid it reports.
type Relay interface {
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}

// Error describes a relay rejection or transport failure.
type Error struct {
	Relay  string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("broadcast to %s: http %d: %v", e.Relay, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("broadcast to %s: %v", e.Relay, e.Err)
	default:
		return fmt.Sprintf("broadcast to %s: http %d: %s", e.Relay, e.Status, e.Body)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Broadcaster is the terminal step of a claim.
type Broadcaster struct {
	relay Relay
}

// New creates a Broadcaster over relay.
func New(relay Relay) *Broadcaster {
	return &Broadcaster{relay: relay}
}

// Broadcast submits rawTx. It never panics and never retries; a failure is
// logged and returned as *Error.
func (b *Broadcaster) Broadcast(ctx context.Context, rawTx []byte) error {
	localID := TxID(rawTx)

	hash, err := b.relay.Broadcast(ctx, rawTx)
	if err != nil {
		metrics.BroadcastFailed()
		klog.Broadcast.Warn().
			Err(err).
			Str("txid", localID).
			Int("bytes", len(rawTx)).
			Msg("Broadcast failed, resubmit manually")

		var be *Error
		if errors.As(err, &be) {
			return be
		}
		return &Error{Err: err}
	}

	metrics.BroadcastOK()
	klog.Broadcast.Info().
		Str("txid", hash).
		Str("local_txid", localID).
		Msg("Transaction broadcast")
	return nil
}

// TxID parses rawTx as a serialized transaction and returns its id, or an
// empty string if the bytes do not parse.
func TxID(rawTx []byte) string {
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return ""
	}
	return msg.TxHash().String()
}
