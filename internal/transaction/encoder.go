package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/blockchain/near"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/rs/zerolog"
)

// NearState is the chain state needed to encode transactions
type NearState interface {
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*near.AccessKeyView, error)
	FinalBlockHash(ctx context.Context) (string, error)
}

// NonceSource reports the relay's NEAR nonce counter
type NonceSource interface {
	NearNonce(ctx context.Context, csna string) (uint64, error)
}

// Encoder turns pending transactions into relay-ready encodings
type Encoder struct {
	near   NearState
	relay  NonceSource
	logger zerolog.Logger
}

// NewEncoder creates a new encoder
func NewEncoder(nearState NearState, relay NonceSource, logger zerolog.Logger) *Encoder {
	return &Encoder{
		near:   nearState,
		relay:  relay,
		logger: logger.With().Str("component", "tx-encoder").Logger(),
	}
}

// BaseNonce returns max(accessKeyNonce+1, relayNonce) for the CSNA key, along with
// the block hash to reference. Neither value is cached.
func (e *Encoder) BaseNonce(ctx context.Context, csna string, key PublicKey) (uint64, [32]byte, error) {
	var blockHash [32]byte

	localNext := uint64(1)
	blockHashStr := ""
	accessKey, err := e.near.ViewAccessKey(ctx, csna, key.String())
	switch {
	case err == nil:
		localNext = accessKey.Nonce + 1
		blockHashStr = accessKey.BlockHash
	case errors.Is(err, near.ErrAccountNotFound):
		// the relay registers the key together with the first intention
	default:
		return 0, blockHash, fmt.Errorf("%w: access key: %v", types.ErrChainQuery, err)
	}

	relayNonce, err := e.relay.NearNonce(ctx, csna)
	if err != nil {
		return 0, blockHash, fmt.Errorf("%w: relay nonce: %v", types.ErrChainQuery, err)
	}

	if blockHashStr == "" {
		blockHashStr, err = e.near.FinalBlockHash(ctx)
		if err != nil {
			return 0, blockHash, fmt.Errorf("%w: final block: %v", types.ErrChainQuery, err)
		}
	}
	blockHash, err = DecodeBlockHash(blockHashStr)
	if err != nil {
		return 0, blockHash, err
	}

	base := localNext
	if relayNonce > base {
		base = relayNonce
	}

	e.logger.Debug().
		Str("csna", csna).
		Uint64("access_key_next", localNext).
		Uint64("relay_nonce", relayNonce).
		Uint64("base", base).
		Msg("Resolved NEAR nonce")

	return base, blockHash, nil
}

// EncodeBatch encodes txs in order with nonces base, base+1, ... signed by the CSNA
// access key publicKey, as returned by get_chain_signature_near_account_public_key.
func (e *Encoder) EncodeBatch(ctx context.Context, csna, publicKey string, txs []types.PendingTransaction) ([]types.EncodedTransaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	if publicKey == "" {
		return nil, fmt.Errorf("%w: csna public key is required", types.ErrAccountDerivation)
	}

	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAccountDerivation, err)
	}

	base, blockHash, err := e.BaseNonce(ctx, csna, key)
	if err != nil {
		return nil, err
	}

	return EncodeWithNonce(csna, key, base, blockHash, txs)
}

// EncodeWithNonce encodes txs with consecutive nonces starting at base
func EncodeWithNonce(csna string, key PublicKey, base uint64, blockHash [32]byte, txs []types.PendingTransaction) ([]types.EncodedTransaction, error) {
	encoded := make([]types.EncodedTransaction, 0, len(txs))
	for i, pending := range txs {
		signer := pending.SignerID
		if signer == "" {
			signer = csna
		}

		enc, err := Encode(&Unsigned{
			SignerID:   signer,
			PublicKey:  key,
			Nonce:      base + uint64(i),
			ReceiverID: pending.ReceiverID,
			BlockHash:  blockHash,
			Actions:    pending.Actions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %d: %w", i, err)
		}
		encoded = append(encoded, enc)
	}
	return encoded, nil
}

func parseU128(s string) (*big.Int, error) {
	return types.ParseBigAmount(s)
}
