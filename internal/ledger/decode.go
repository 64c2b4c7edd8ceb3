package ledger

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/klingdrop/internal/log"
	"github.com/Klingon-tech/klingdrop/internal/metrics"
)

// Result is the decoded return value of a call.
type Result struct {
	// Value is the decoded JSON value. It is only meaningful when Defined.
	Value interface{}
	// Raw is the decoded JSON text.
	Raw json.RawMessage
	// Defined is false when the call returned nothing or the payload could
	// not be decoded.
	Defined bool
	TxHash  string
	// Recovered is set when the outcome was read by status lookup after an
	// ambiguous timeout.
	Recovered *TimeoutRecovered
	// DecodeErr is set when a success payload was present but unreadable.
	DecodeErr *DecodeError
}

// String returns the value as a string when it is one.
func (r Result) String() (string, bool) {
	if !r.Defined {
		return "", false
	}
	s, ok := r.Value.(string)
	return s, ok
}

// Into unmarshals the decoded value into v.
func (r Result) Into(v interface{}) error {
	if !r.Defined {
		return errors.New("result has no value")
	}
	return json.Unmarshal(r.Raw, v)
}

// Decode extracts the return value of a successful outcome. An empty
// payload yields an undefined result. A payload that is not base64 encoded
// JSON is logged with the full record and also yields an undefined result,
// with DecodeErr set.
func Decode(out *Outcome) Result {
	if out == nil {
		return Result{}
	}
	res := Result{TxHash: out.TxHash}

	sv := out.Status.SuccessValue
	if sv == nil || len(*sv) == 0 {
		return res
	}

	raw, err := base64.StdEncoding.DecodeString(*sv)
	if err != nil {
		return decodeFailure(out, res, fmt.Errorf("base64: %w", err))
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return decodeFailure(out, res, fmt.Errorf("json: %w", err))
	}

	res.Value = value
	res.Raw = raw
	res.Defined = true
	return res
}

func decodeFailure(out *Outcome, res Result, err error) Result {
	record := string(out.Raw)
	if record == "" {
		if b, mErr := json.Marshal(out.Status); mErr == nil {
			record = string(b)
		}
	}

	metrics.DecodeError()
	klog.Ledger.Error().
		Err(err).
		Str("tx_hash", out.TxHash).
		Str("record", record).
		Msg("Error parsing success value for transaction")

	res.DecodeErr = &DecodeError{TxHash: out.TxHash, Record: record, Err: err}
	return res
}
