package near

import (
	"bytes"
	"encoding/binary"
	"math/big"
)

// Borsh encoding of the subset of NEAR transaction types klingdrop sends.

const (
	keyTypeED25519     = 0
	actionFunctionCall = 2
	blockHashSize      = 32
	u128Size           = 16
)

type functionCallAction struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

type transaction struct {
	SignerID   string
	PublicKey  []byte // 32-byte ed25519 key
	Nonce      uint64
	ReceiverID string
	BlockHash  [blockHashSize]byte
	Actions    []functionCallAction
}

type borshWriter struct {
	buf bytes.Buffer
}

func (w *borshWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *borshWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) u128(v *big.Int) {
	var le [u128Size]byte
	if v != nil {
		be := v.Bytes()
		for i := 0; i < len(be) && i < u128Size; i++ {
			le[i] = be[len(be)-1-i]
		}
	}
	w.buf.Write(le[:])
}

func (w *borshWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *borshWriter) fixed(b []byte) { w.buf.Write(b) }

func (w *borshWriter) string(s string) { w.bytes([]byte(s)) }

func (tx *transaction) encode() []byte {
	var w borshWriter
	w.string(tx.SignerID)
	w.u8(keyTypeED25519)
	w.fixed(tx.PublicKey)
	w.u64(tx.Nonce)
	w.string(tx.ReceiverID)
	w.fixed(tx.BlockHash[:])
	w.u32(uint32(len(tx.Actions)))
	for _, a := range tx.Actions {
		w.u8(actionFunctionCall)
		w.string(a.MethodName)
		w.bytes(a.Args)
		w.u64(a.Gas)
		w.u128(a.Deposit)
	}
	return w.buf.Bytes()
}

// encodeSigned appends an ed25519 signature to an encoded transaction.
func encodeSigned(encodedTx, signature []byte) []byte {
	var w borshWriter
	w.fixed(encodedTx)
	w.u8(keyTypeED25519)
	w.fixed(signature)
	return w.buf.Bytes()
}
