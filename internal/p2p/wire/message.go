package wire

import (
	"encoding/json"

	"github.com/kaslum/kaslum-node/pkg/types"
)

// Kind tags the variant carried in a Message's Body.
type Kind string

const (
	KindHandshake    Kind = "handshake"
	KindHandshakeAck Kind = "handshake_ack"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
	KindInv          Kind = "inv"
	KindGetData      Kind = "get_data"
	KindBlock        Kind = "block"
	KindTx           Kind = "tx"
	KindGetBlocks    Kind = "get_blocks"
	KindPeerList     Kind = "peer_list"
	KindStatus       Kind = "status"
	KindSignRequest  Kind = "sign_request"
	KindSignResponse Kind = "sign_response"
)

// Message is the tagged-union envelope every wire frame carries. Body
// holds the Kind-specific payload, re-marshaled by the caller into the
// matching typed struct below (json.RawMessage keeps Message decodable
// without knowing every variant up front).
type Message struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Handshake announces protocol/network compatibility, mirroring
// internal/p2p.HandshakeMessage but carried over the generalized wire
// framing instead of a dedicated stream protocol.
type Handshake struct {
	ProtocolVersion uint32     `json:"protocol_version"`
	GenesisHash     types.Hash `json:"genesis_hash"`
	NetworkID       string     `json:"network_id"`
	BestHeight      uint64     `json:"best_height"`
}

// HandshakeAck confirms acceptance (or rejection, with Reason set) of a
// Handshake.
type HandshakeAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Ping/Pong carry a nonce so a reply can be matched to its request.
type Ping struct {
	Nonce uint64 `json:"nonce"`
}

type Pong struct {
	Nonce uint64 `json:"nonce"`
}

// Inv announces known item hashes (blocks or transactions) without
// sending their bodies.
type Inv struct {
	BlockHashes []types.Hash `json:"block_hashes,omitempty"`
	TxHashes    []types.Hash `json:"tx_hashes,omitempty"`
}

// GetData requests the bodies for previously-advertised item hashes.
type GetData struct {
	BlockHashes []types.Hash `json:"block_hashes,omitempty"`
	TxHashes    []types.Hash `json:"tx_hashes,omitempty"`
}

// Block carries a single block's raw encoded bytes (already-serialized
// pkg/block.Block JSON), avoiding a second JSON layer inside the frame.
type Block struct {
	Data []byte `json:"data"`
}

// Tx carries a single transaction's raw encoded bytes.
type Tx struct {
	Data []byte `json:"data"`
}

// GetBlocks requests a height range of blocks.
type GetBlocks struct {
	FromHeight uint64 `json:"from_height"`
	MaxCount   uint32 `json:"max_count"`
}

// PeerList exchanges known peer multiaddrs for discovery.
type PeerList struct {
	Addrs []string `json:"addrs"`
}

// Status reports a peer's current chain position, used for periodic
// liveness/health checks distinct from the Ping/Pong keepalive.
type Status struct {
	Height  uint64     `json:"height"`
	TipHash types.Hash `json:"tip_hash"`
}

// SignRequest asks a remote signer (e.g. a co-located HSM-backed signer
// process) to sign a hash using a given key scheme.
type SignRequest struct {
	Scheme uint8      `json:"scheme"`
	Hash   types.Hash `json:"hash"`
}

// SignResponse returns the signature produced for a SignRequest, or an
// error string if signing failed.
type SignResponse struct {
	Signature []byte `json:"signature,omitempty"`
	Err       string `json:"err,omitempty"`
}
