package withdraw

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ScriptFetcher returns raw transactions so missing prevout scripts can be recovered
type ScriptFetcher interface {
	RawTransaction(ctx context.Context, txid string) (string, error)
}

// Outpoint converts a UTXO reference to a wire outpoint
func Outpoint(u types.UTXO) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid txid %q", types.ErrChainQuery, u.TxID)
	}
	return wire.NewOutPoint(hash, u.Vout), nil
}

// OutputScript returns the locking script of a planned output
func OutputScript(out types.Output, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(out.Address, params)
	if err != nil {
		return nil, fmt.Errorf("invalid output address %q: %w", out.Address, err)
	}
	return txscript.PayToAddrScript(addr)
}

// BuildPSBT turns a plan into an unsigned PSBT with witness UTXOs on every input
func BuildPSBT(ctx context.Context, plan *types.WithdrawPlan, params *chaincfg.Params, fetcher ScriptFetcher) (*psbt.Packet, error) {
	outpoints := make([]*wire.OutPoint, 0, len(plan.Inputs))
	sequences := make([]uint32, 0, len(plan.Inputs))
	for _, in := range plan.Inputs {
		outpoint, err := Outpoint(in)
		if err != nil {
			return nil, err
		}
		outpoints = append(outpoints, outpoint)
		sequences = append(sequences, wire.MaxTxInSequenceNum)
	}

	txOuts := make([]*wire.TxOut, 0, len(plan.Outputs))
	for _, out := range plan.Outputs {
		script, err := OutputScript(out, params)
		if err != nil {
			return nil, err
		}
		txOuts = append(txOuts, wire.NewTxOut(out.Value, script))
	}

	packet, err := psbt.New(outpoints, txOuts, 2, 0, sequences)
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt: %w", err)
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt updater: %w", err)
	}

	for i, in := range plan.Inputs {
		script, err := prevoutScript(ctx, in, fetcher)
		if err != nil {
			return nil, err
		}
		if err := updater.AddInWitnessUtxo(wire.NewTxOut(int64(in.Value), script), i); err != nil {
			return nil, fmt.Errorf("failed to add witness utxo %d: %w", i, err)
		}
	}

	return packet, nil
}

// EncodePSBT returns the base64 and hex encodings of a packet
func EncodePSBT(packet *psbt.Packet) (string, string, error) {
	b64, err := packet.B64Encode()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode psbt: %w", err)
	}
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return "", "", fmt.Errorf("failed to serialize psbt: %w", err)
	}
	return b64, hex.EncodeToString(buf.Bytes()), nil
}

func prevoutScript(ctx context.Context, in types.UTXO, fetcher ScriptFetcher) ([]byte, error) {
	if in.Script != "" {
		script, err := hex.DecodeString(in.Script)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid script for %s:%d", types.ErrChainQuery, in.TxID, in.Vout)
		}
		return script, nil
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: missing script for %s:%d", types.ErrChainQuery, in.TxID, in.Vout)
	}

	rawHex, err := fetcher.RawTransaction(ctx, in.TxID)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid raw transaction %s", types.ErrChainQuery, in.TxID)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction %s: %v", types.ErrChainQuery, in.TxID, err)
	}
	if int(in.Vout) >= len(tx.TxOut) {
		return nil, fmt.Errorf("%w: output %d not found in %s", types.ErrChainQuery, in.Vout, in.TxID)
	}
	return tx.TxOut[in.Vout].PkScript, nil
}
