package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nlo/internal/opserr"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/retriever"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/state"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
)

// SS58 prefix used for the generic Substrate network.
const ss58Prefix = 42

// Substrate follows block heads, submits signed extrinsics and reads their
// events over one node connection.
type Substrate struct {
	Heads

	api  *gsrpc.SubstrateAPI
	meta *types.Metadata
}

func DialSubstrate(url string) (*Substrate, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("failed to fetch runtime metadata: %w", err)
	}
	return &Substrate{Heads: NewHeads(api.RPC.Chain), api: api, meta: meta}, nil
}

func (s *Substrate) Close() error {
	s.api.Client.Close()
	return nil
}

// Submission tracks one extrinsic from submission to a terminal status.
type Submission struct {
	Statuses *Subscription[Status]
	// Extrinsic is the hex encoding used to locate it inside a block.
	Extrinsic string
}

// SubmitSudoSetCode signs sudo(system.set_code(code)) with the key derived
// from sudoURI and submits it.
func (s *Substrate) SubmitSudoSetCode(ctx context.Context, code []byte, sudoURI string) (*Submission, error) {
	setCode, err := types.NewCall(s.meta, "System.set_code", types.NewBytes(code))
	if err != nil {
		return nil, fmt.Errorf("failed to build set_code call: %w", err)
	}
	call, err := types.NewCall(s.meta, "Sudo.sudo", setCode)
	if err != nil {
		return nil, fmt.Errorf("failed to build sudo call: %w", err)
	}
	return s.submit(ctx, call, sudoURI)
}

func (s *Substrate) submit(ctx context.Context, call types.Call, signerURI string) (*Submission, error) {
	signer, err := signature.KeyringPairFromSecret(signerURI, ss58Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	genesis, err := s.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch genesis hash: %w", err)
	}
	rv, err := s.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch runtime version: %w", err)
	}

	key, err := types.CreateStorageKey(s.meta, "System", "Account", signer.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build account storage key: %w", err)
	}
	var account types.AccountInfo
	if _, err := s.api.RPC.State.GetStorageLatest(key, &account); err != nil {
		return nil, fmt.Errorf("failed to read signer account %s: %w", signer.Address, err)
	}

	ext := types.NewExtrinsic(call)
	err = ext.Sign(signer, types.SignatureOptions{
		BlockHash:          genesis,
		Era:                types.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        genesis,
		Nonce:              types.NewUCompactFromUInt(uint64(account.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign extrinsic: %w", err)
	}
	encoded, err := codec.EncodeToHex(ext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extrinsic: %w", err)
	}

	slog.Info("Submitting extrinsic", "signer", signer.Address, "nonce", account.Nonce)
	sub, err := s.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, fmt.Errorf("failed to submit extrinsic: %w", err)
	}

	return &Submission{
		Statuses:  forward(ctx, sub.Chan(), sub.Err(), convertStatus, sub.Unsubscribe),
		Extrinsic: encoded,
	}, nil
}

func convertStatus(st types.ExtrinsicStatus) Status {
	switch {
	case st.IsInBlock:
		return Status{State: StatusInBlock, BlockHash: st.AsInBlock.Hex()}
	case st.IsFinalized:
		return Status{State: StatusFinalized, BlockHash: st.AsFinalized.Hex()}
	case st.IsRetracted:
		return Status{State: StatusRetracted, BlockHash: st.AsRetracted.Hex()}
	case st.IsFinalityTimeout:
		return Status{State: StatusFinalityTimeout, BlockHash: st.AsFinalityTimeout.Hex()}
	case st.IsUsurped:
		return Status{State: StatusUsurped}
	case st.IsDropped:
		return Status{State: StatusDropped}
	case st.IsInvalid:
		return Status{State: StatusInvalid}
	case st.IsBroadcast:
		return Status{State: StatusBroadcast}
	case st.IsReady:
		return Status{State: StatusReady}
	default:
		return Status{State: StatusFuture}
	}
}

// ExtrinsicEvents returns the events emitted while applying the given
// extrinsic in the block, in emission order.
func (s *Substrate) ExtrinsicEvents(ctx context.Context, blockHash, extrinsic string) ([]Event, error) {
	hash, err := types.NewHashFromHexString(blockHash)
	if err != nil {
		return nil, fmt.Errorf("invalid block hash %s: %w", blockHash, err)
	}

	block, err := s.api.RPC.Chain.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block %s: %w", blockHash, err)
	}
	index := -1
	for i, ext := range block.Block.Extrinsics {
		encoded, err := codec.EncodeToHex(ext)
		if err != nil {
			continue
		}
		if strings.EqualFold(encoded, extrinsic) {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("extrinsic not found in block %s", blockHash)
	}

	r, err := retriever.NewDefaultEventRetriever(state.NewEventProvider(s.api.RPC.State), s.api.RPC.State)
	if err != nil {
		return nil, fmt.Errorf("failed to create event retriever: %w", err)
	}
	raw, err := r.GetEvents(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events of block %s: %w", blockHash, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.convertEvents(raw, uint32(index)), nil
}

func (s *Substrate) convertEvents(raw []*parser.Event, index uint32) []Event {
	var events []Event
	for _, ev := range raw {
		if ev == nil || ev.Phase == nil || !ev.Phase.IsApplyExtrinsic || ev.Phase.AsApplyExtrinsic != index {
			continue
		}
		pallet, name, _ := strings.Cut(ev.Name, ".")
		e := Event{Pallet: pallet, Name: name}
		switch {
		case e.Is("System", "ExtrinsicFailed"):
			e.Err = s.dispatchError(ev.Fields)
			if e.Err == nil {
				e.Err = &opserr.DispatchError{Name: "ExtrinsicFailed"}
			}
		case e.Is("Sudo", "Sudid"):
			e.Err = s.dispatchError(ev.Fields)
		}
		events = append(events, e)
	}
	return events
}
