package clockmesh

import "errors"

var (
	ErrInvalidCfg     = errors.New("node: invalid options")
	ErrNodeClosed     = errors.New("node: shutting down")
	ErrAlreadyStarted = errors.New("node: already started")

	ErrNotConnected    = errors.New("link: no connection recorded for peer")
	ErrPeerUnreachable = errors.New("link: retry budget exhausted dialing peer")
	ErrLinkWrite       = errors.New("link: error writing to a peer connection")
)
