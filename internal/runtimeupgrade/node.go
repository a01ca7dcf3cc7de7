package runtimeupgrade

import (
	"context"

	"nlo/internal/chain"
)

// DialNode connects to the node's RPC endpoint.
func DialNode(_ context.Context, url string) (Node, error) {
	node, err := chain.DialSubstrate(url)
	if err != nil {
		return nil, err
	}
	return node, nil
}
