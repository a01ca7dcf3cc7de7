package chain

import (
	"context"
	"fmt"

	gsrpcchain "github.com/centrifuge/go-substrate-rpc-client/v4/rpc/chain"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// Heads reads block headers over the node's chain RPC.
type Heads struct {
	chain gsrpcchain.Chain
}

func NewHeads(c gsrpcchain.Chain) Heads {
	return Heads{chain: c}
}

// CurrentHeight returns the number of the best block.
func (h Heads) CurrentHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	head, err := h.chain.GetHeaderLatest()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	return uint64(head.Number), nil
}

// SubscribeHeads streams new best block headers until the subscription is
// cancelled or ctx ends.
func (h Heads) SubscribeHeads(ctx context.Context) (*Subscription[Header], error) {
	sub, err := h.chain.SubscribeNewHeads()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	return forward(ctx, sub.Chan(), sub.Err(), convertHeader, sub.Unsubscribe), nil
}

func convertHeader(h types.Header) Header {
	return Header{Number: uint64(h.Number), ParentHash: h.ParentHash.Hex()}
}

// forward relays a gsrpc subscription as a Subscription, converting each
// value. The relay stops before unsubscribe runs so it never sends on a
// closed feed.
func forward[S, T any](ctx context.Context, in <-chan S, inErrs <-chan error, convert func(S) T, unsubscribe func()) *Subscription[T] {
	values := make(chan T)
	errs := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		defer close(values)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case err, ok := <-inErrs:
				if ok && err != nil {
					errs <- err
				}
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case values <- convert(v):
				case <-stop:
					return
				}
			}
		}
	}()
	return NewSubscription(values, errs, func() {
		close(stop)
		unsubscribe()
	})
}
