package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"golang.org/x/sync/errgroup"
)

// GetBalances reads NEAR (native plus wrapped), BTC-token, gas-token and confirmed BTC
// balances concurrently. btcAddress may be empty to skip the on-chain BTC lookup.
func (r *Resolver) GetBalances(ctx context.Context, csna, btcAddress string) (*types.Balances, error) {
	var (
		native, wrapped, btcToken *big.Int
		info                      *types.AccountInfo
		confirmed                 uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		native, err = r.near.GetNativeBalance(gctx, csna)
		return err
	})
	g.Go(func() error {
		var err error
		wrapped, err = r.near.FTBalanceOfCached(gctx, r.env.NearToken, csna)
		return err
	})
	g.Go(func() error {
		var err error
		btcToken, err = r.near.FTBalanceOfCached(gctx, r.env.BTCToken, csna)
		return err
	})
	g.Go(func() error {
		var err error
		info, err = r.GetAccountInfo(gctx, csna)
		return err
	})
	if btcAddress != "" && r.utxos != nil {
		g.Go(func() error {
			utxos, err := r.utxos.AddressUTXOs(gctx, btcAddress)
			if err != nil {
				return err
			}
			for _, u := range utxos {
				if u.Confirmed {
					confirmed += u.Value
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: balances: %v", types.ErrChainQuery, err)
	}

	return &types.Balances{
		Near:         new(big.Int).Add(native, wrapped),
		BTCToken:     btcToken,
		GasToken:     uint64(info.GasToken[r.env.BTCToken]),
		BTCConfirmed: confirmed,
	}, nil
}

// AvailableNear returns native plus wrapped NEAR of the CSNA, read fresh for the
// gas payer decision
func (r *Resolver) AvailableNear(ctx context.Context, csna string) (*big.Int, error) {
	var native, wrapped *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		native, err = r.near.GetNativeBalance(gctx, csna)
		return err
	})
	g.Go(func() error {
		var err error
		wrapped, err = r.near.FTBalanceOf(gctx, r.env.NearToken, csna)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: near balance: %v", types.ErrChainQuery, err)
	}

	return new(big.Int).Add(native, wrapped), nil
}
