package peer

import "errors"

var (
	ErrSpawn           = errors.New("peer: spawn failed")
	ErrPeerIO          = errors.New("peer: stream i/o failed")
	ErrUnknownPeer     = errors.New("peer: unknown peer")
	ErrHandshakeFailed = errors.New("peer: handshake failed")
	ErrReservedID      = errors.New("peer: request id reserved for initialize")
)
