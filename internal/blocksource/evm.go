package blocksource

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMSource reads blocks from any Ethereum JSON-RPC endpoint.
type EVMSource struct {
	client *ethclient.Client
}

func DialEVM(ctx context.Context, rpcURL string) (*EVMSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &EVMSource{client: client}, nil
}

func (s *EVMSource) Name() string { return "evm" }

func (s *EVMSource) CurrentHeight(ctx context.Context) (int64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm block number: %w", err)
	}
	return int64(n), nil
}

func (s *EVMSource) BlockID(ctx context.Context, height int64) (string, error) {
	header, err := s.client.HeaderByNumber(ctx, big.NewInt(height))
	if errors.Is(err, ethereum.NotFound) {
		return "", fmt.Errorf("%w: height %d", ErrBlockUnavailable, height)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	return header.Hash().Hex(), nil
}

func (s *EVMSource) Close() {
	s.client.Close()
}
