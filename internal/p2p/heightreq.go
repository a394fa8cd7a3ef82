package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/kaslum/kaslum-node/internal/p2p/wire"
	"github.com/kaslum/kaslum-node/pkg/types"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	// HeightProtocol is the protocol ID for querying chain height.
	HeightProtocol = protocol.ID("/kaslum/height/1.0.0")

	// heightReadTimeout is the max time to read a height response.
	heightReadTimeout = 5 * time.Second
)

// HeightResponse contains a peer's chain height and tip hash.
type HeightResponse struct {
	Height  uint64
	TipHash string
}

// RegisterHeightHandler registers a stream handler that responds with the
// local chain height and tip hash, framed as a wire.Status message (C9)
// rather than a bare JSON object.
func (s *Syncer) RegisterHeightHandler(heightFn func() (uint64, string)) {
	s.host.SetStreamHandler(HeightProtocol, heightStreamHandler(heightFn))
}

// RequestHeight queries a peer for its chain height and tip hash.
func (s *Syncer) RequestHeight(ctx context.Context, peerID peer.ID) (*HeightResponse, error) {
	return s.requestHeight(ctx, peerID, HeightProtocol)
}

// RegisterSubChainHeightHandler registers a height provider for a sub-chain.
func (s *Syncer) RegisterSubChainHeightHandler(chainIDHex string, heightFn func() (uint64, string)) {
	s.host.SetStreamHandler(SubChainHeightProtocol(chainIDHex), heightStreamHandler(heightFn))
}

// RequestSubChainHeight queries a peer for a sub-chain's height and tip hash.
func (s *Syncer) RequestSubChainHeight(ctx context.Context, peerID peer.ID, chainIDHex string) (*HeightResponse, error) {
	return s.requestHeight(ctx, peerID, SubChainHeightProtocol(chainIDHex))
}

// heightStreamHandler replies on stream with a single framed wire.Status
// message carrying the chain's current height/tip.
func heightStreamHandler(heightFn func() (uint64, string)) network.StreamHandler {
	return func(stream network.Stream) {
		defer stream.Close()

		height, tipHashHex := heightFn()
		var tipHash types.Hash
		if h, err := types.HexToHash(tipHashHex); err == nil {
			tipHash = h
		}
		msg, err := wire.Encode(wire.KindStatus, wire.Status{Height: height, TipHash: tipHash})
		if err != nil {
			return
		}
		wire.WriteMessage(stream, msg)
	}
}

// requestHeight is the shared implementation for height queries.
func (s *Syncer) requestHeight(ctx context.Context, peerID peer.ID, proto protocol.ID) (*HeightResponse, error) {
	stream, err := s.host.NewStream(ctx, peerID, proto)
	if err != nil {
		return nil, fmt.Errorf("open height stream: %w", err)
	}
	defer stream.Close()

	// Signal we're done writing (request is empty, just opening the stream).
	stream.CloseWrite()

	_ = stream.SetReadDeadline(time.Now().Add(heightReadTimeout))

	msg, err := wire.ReadMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read height response: %w", err)
	}
	if msg.Kind != wire.KindStatus {
		return nil, fmt.Errorf("unexpected height response kind: %s", msg.Kind)
	}
	status, err := wire.DecodeStatus(msg)
	if err != nil {
		return nil, fmt.Errorf("decode height response: %w", err)
	}

	return &HeightResponse{Height: status.Height, TipHash: status.TipHash.String()}, nil
}
