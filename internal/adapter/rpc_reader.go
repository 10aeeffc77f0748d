package adapter

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/yield-scanner/internal/circuitbreaker"
	"github.com/yield-scanner/internal/retry"
)

// Function selectors of the lending pool and oracle views the reader calls.
// Computed once at init from the canonical signatures.
var (
	selGetUserSupply    = selector("getUserSupply(address,address)")
	selGetUserLiability = selector("getUserLiability(address,address)")
	selGetUserBackstop  = selector("getUserBackstop(address)")
	selGetAssetPrice    = selector("getAssetPrice(address)")
	selGetLpTokenPrice  = selector("getLpTokenPrice()")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// oraclePriceDecimals is the fixed-point scale of the protocol oracle.
const oraclePriceDecimals = 8

// RPCStateReaderConfig configures an RPCStateReader.
type RPCStateReaderConfig struct {
	// RPCURL is the JSON-RPC endpoint. Required.
	RPCURL string

	// OracleAddress is the protocol price oracle contract. Required.
	OracleAddress string

	// RequestTimeout bounds each eth_call. Default 10s.
	RequestTimeout time.Duration

	// Decimals resolves an asset address to its token decimals.
	// When nil, 18 is assumed.
	Decimals func(assetAddress string) int
}

// RPCStateReader implements LiveStateReader over the protocol's contracts.
// Calls are guarded by a circuit breaker so a flapping RPC node degrades
// into skipped positions instead of request pileup.
type RPCStateReader struct {
	client   *ethclient.Client
	oracle   common.Address
	timeout  time.Duration
	decimals func(assetAddress string) int
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.Config
}

// NewRPCStateReader dials the RPC endpoint and returns a live state reader.
func NewRPCStateReader(cfg *RPCStateReaderConfig) (*RPCStateReader, error) {
	if cfg == nil || cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.OracleAddress == "" {
		return nil, fmt.Errorf("oracle address is required")
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", cfg.RPCURL, err)
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	decimals := cfg.Decimals
	if decimals == nil {
		decimals = func(string) int { return 18 }
	}

	return &RPCStateReader{
		client:   client,
		oracle:   common.HexToAddress(cfg.OracleAddress),
		timeout:  timeout,
		decimals: decimals,
		breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("live-state-rpc")),
		retryCfg: retry.QuickConfig(),
	}, nil
}

// Close releases the underlying RPC connection.
func (r *RPCStateReader) Close() {
	r.client.Close()
}

// GetPositionState reads current balances and prices for one position key.
func (r *RPCStateReader) GetPositionState(ctx context.Context, userID, poolID, assetAddress string) (*PositionState, error) {
	user := common.HexToAddress(userID)
	pool := common.HexToAddress(poolID)
	asset := common.HexToAddress(assetAddress)
	assetDecimals := r.decimals(assetAddress)

	var state PositionState
	err := r.breaker.Execute(ctx, func() error {
		result := retry.WithBackoff(ctx, r.retryCfg, func(ctx context.Context, _ int) error {
			supply, err := r.callUint(ctx, pool, pack(selGetUserSupply, user.Bytes(), asset.Bytes()))
			if err != nil {
				return fmt.Errorf("getUserSupply: %w", err)
			}
			liability, err := r.callUint(ctx, pool, pack(selGetUserLiability, user.Bytes(), asset.Bytes()))
			if err != nil {
				return fmt.Errorf("getUserLiability: %w", err)
			}
			backstop, err := r.callUint(ctx, pool, pack(selGetUserBackstop, user.Bytes()))
			if err != nil {
				return fmt.Errorf("getUserBackstop: %w", err)
			}
			assetPrice, err := r.callUint(ctx, r.oracle, pack(selGetAssetPrice, asset.Bytes()))
			if err != nil {
				return fmt.Errorf("getAssetPrice: %w", err)
			}
			lpPrice, err := r.callUint(ctx, r.oracle, pack(selGetLpTokenPrice))
			if err != nil {
				return fmt.Errorf("getLpTokenPrice: %w", err)
			}

			state = PositionState{
				SupplyTokens:    toDisplayUnits(supply, assetDecimals),
				LiabilityTokens: toDisplayUnits(liability, assetDecimals),
				BackstopTokens:  toDisplayUnits(backstop, assetDecimals),
				AssetPriceUsd:   toDisplayUnits(assetPrice, oraclePriceDecimals),
				LpTokenPriceUsd: toDisplayUnits(lpPrice, oraclePriceDecimals),
			}
			return nil
		})
		return result.LastError
	})
	if err != nil {
		return nil, fmt.Errorf("live state read failed for %s/%s/%s: %w", userID, poolID, assetAddress, err)
	}

	return &state, nil
}

// callUint performs an eth_call and decodes the single uint256 return value.
func (r *RPCStateReader) callUint(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.client.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// pack builds eth_call data: a 4-byte selector followed by each argument
// left-padded to 32 bytes.
func pack(selector []byte, args ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		padded := make([]byte, 32)
		copy(padded[32-len(arg):], arg)
		data = append(data, padded...)
	}
	return data
}

// toDisplayUnits converts a raw fixed-point integer to display units.
// Raw on-chain amounts never enter the yield core; the division happens
// here at the boundary.
func toDisplayUnits(raw *big.Int, decimals int) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(raw).Float64()
	return f / math.Pow10(decimals)
}
