package p2p

import (
	"fmt"
	"time"

	klog "github.com/kaslum/kaslum-node/internal/log"
	"github.com/kaslum/kaslum-node/internal/p2p/wire"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// handshakeTimeout is the max time for a complete handshake exchange.
const handshakeTimeout = 10 * time.Second

// registerHandshakeHandler sets up the stream handler for incoming
// handshakes, driven by wire.Session's acceptor-side Handshake -> Steady
// state machine (C9) rather than a one-shot JSON exchange.
func (n *Node) registerHandshakeHandler() {
	logger := klog.WithComponent("p2p")
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()

		remotePeer := stream.Conn().RemotePeer()
		_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

		sess := wire.NewSession(stream)
		err := sess.AcceptHandshake(func(hs wire.Handshake) error {
			if reason := n.validateHandshake(hs); reason != "" {
				return fmt.Errorf("%s", reason)
			}
			return nil
		})
		if err != nil {
			logger.Warn().
				Err(err).
				Str("peer", remotePeer.String()[:16]).
				Msg("Handshake rejected, banning peer")
			if n.BanManager != nil {
				n.BanManager.RecordOffense(remotePeer, PenaltyHandshakeFail, err.Error())
			}
			n.DisconnectPeer(remotePeer)
		}
	})
}

// doHandshake initiates a handshake with a remote peer (dialer side).
func (n *Node) doHandshake(peerID peer.ID) {
	logger := klog.WithComponent("p2p")

	stream, err := n.host.NewStream(n.ctx, peerID, HandshakeProtocol)
	if err != nil {
		// Peer doesn't support handshake protocol — tolerate for now.
		logger.Debug().Str("peer", peerID.String()[:16]).Msg("Peer does not support handshake protocol, tolerating")
		return
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	sess := wire.NewSession(stream)
	if err := sess.DialHandshake(n.ctx, n.buildHandshakeMessage()); err != nil {
		logger.Warn().Err(err).Str("peer", peerID.String()[:16]).Msg("Handshake rejected by peer, banning")
		if n.BanManager != nil {
			n.BanManager.RecordOffense(peerID, PenaltyHandshakeFail, err.Error())
		}
		n.DisconnectPeer(peerID)
	}
}

// validateHandshake checks a peer's handshake message for compatibility.
// Returns an empty string on success, or a reason string on failure.
func (n *Node) validateHandshake(msg wire.Handshake) string {
	if msg.GenesisHash != n.genesisHash {
		return fmt.Sprintf("genesis mismatch: peer=%s local=%s",
			msg.GenesisHash.String()[:16], n.genesisHash.String()[:16])
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d",
			msg.ProtocolVersion, MinProtocolVersion)
	}
	return ""
}

// buildHandshakeMessage constructs our handshake message from node state.
func (n *Node) buildHandshakeMessage() wire.Handshake {
	msg := wire.Handshake{
		ProtocolVersion: ProtocolVersion,
		GenesisHash:     n.genesisHash,
		NetworkID:       n.config.NetworkID,
	}
	if n.heightFn != nil {
		msg.BestHeight = n.heightFn()
	}
	return msg
}
