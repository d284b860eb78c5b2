package withdraw

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"golang.org/x/sync/errgroup"
)

// UTXOPageSize is the page size of get_utxos_paged
const UTXOPageSize = 300

// Viewer runs view calls against the bridge contract
type Viewer interface {
	ViewFunction(ctx context.Context, contractID, methodName string, args interface{}) (json.RawMessage, error)
}

type bridgeMetadata struct {
	UTXOsNum types.Uint64String `json:"utxos_num"`
}

type bridgeUTXO struct {
	Vout    uint32             `json:"vout"`
	Balance types.Uint64String `json:"balance"`
	Script  string             `json:"script"`
}

// FetchBridgeUTXOs reads the full bridge-custodied UTXO set, fetching pages concurrently.
// The result is ordered by outpoint key.
func FetchBridgeUTXOs(ctx context.Context, viewer Viewer, bridgeContractID string) ([]types.UTXO, error) {
	raw, err := viewer.ViewFunction(ctx, bridgeContractID, "get_metadata", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrChainQuery, err)
	}
	var meta bridgeMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to decode bridge metadata: %v", types.ErrChainQuery, err)
	}

	total := uint64(meta.UTXOsNum)
	pages := int((total + UTXOPageSize - 1) / UTXOPageSize)

	var mu sync.Mutex
	merged := make(map[string]bridgeUTXO, total)

	g, gctx := errgroup.WithContext(ctx)
	for page := 0; page < pages; page++ {
		fromIndex := page * UTXOPageSize
		g.Go(func() error {
			raw, err := viewer.ViewFunction(gctx, bridgeContractID, "get_utxos_paged", map[string]int{
				"from_index": fromIndex,
				"limit":      UTXOPageSize,
			})
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrChainQuery, err)
			}
			var chunk map[string]bridgeUTXO
			if err := json.Unmarshal(raw, &chunk); err != nil {
				return fmt.Errorf("%w: failed to decode utxo page: %v", types.ErrChainQuery, err)
			}

			mu.Lock()
			for key, utxo := range chunk {
				merged[key] = utxo
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	utxos := make([]types.UTXO, 0, len(keys))
	for _, key := range keys {
		entry := merged[key]
		txid, vout, err := parseOutpointKey(key, entry.Vout)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, types.UTXO{
			TxID:      txid,
			Vout:      vout,
			Value:     uint64(entry.Balance),
			Script:    entry.Script,
			Confirmed: true,
		})
	}
	return utxos, nil
}

// parseOutpointKey splits "txid@vout". Keys without a vout use fallback.
func parseOutpointKey(key string, fallback uint32) (string, uint32, error) {
	txid, voutStr, ok := strings.Cut(key, "@")
	if !ok {
		return key, fallback, nil
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid utxo key %q", types.ErrChainQuery, key)
	}
	return txid, uint32(vout), nil
}

// filterDust drops UTXOs worth less than min
func filterDust(utxos []types.UTXO, min uint64) []types.UTXO {
	kept := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Value >= min {
			kept = append(kept, u)
		}
	}
	return kept
}

// largeEnough keeps UTXOs individually worth at least target, smallest first
func largeEnough(utxos []types.UTXO, target uint64) []types.UTXO {
	kept := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Value >= target {
			kept = append(kept, u)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Value < kept[j].Value })
	return kept
}
