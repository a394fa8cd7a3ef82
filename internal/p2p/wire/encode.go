package wire

import (
	"encoding/json"
	"fmt"
)

// Encode builds a Message by marshaling body under kind.
func Encode(kind Kind, body any) (*Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", kind, err)
	}
	return &Message{Kind: kind, Body: raw}, nil
}

// DecodeHandshake, DecodePing, etc. unmarshal a Message's Body into the
// concrete type matching its Kind. Callers are expected to switch on
// msg.Kind first.

func DecodeHandshake(msg *Message) (Handshake, error) {
	var v Handshake
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeHandshakeAck(msg *Message) (HandshakeAck, error) {
	var v HandshakeAck
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodePing(msg *Message) (Ping, error) {
	var v Ping
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodePong(msg *Message) (Pong, error) {
	var v Pong
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeInv(msg *Message) (Inv, error) {
	var v Inv
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeGetData(msg *Message) (GetData, error) {
	var v GetData
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeBlock(msg *Message) (Block, error) {
	var v Block
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeTx(msg *Message) (Tx, error) {
	var v Tx
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeGetBlocks(msg *Message) (GetBlocks, error) {
	var v GetBlocks
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodePeerList(msg *Message) (PeerList, error) {
	var v PeerList
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeStatus(msg *Message) (Status, error) {
	var v Status
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeSignRequest(msg *Message) (SignRequest, error) {
	var v SignRequest
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}

func DecodeSignResponse(msg *Message) (SignResponse, error) {
	var v SignResponse
	err := json.Unmarshal(msg.Body, &v)
	return v, err
}
