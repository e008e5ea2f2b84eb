package metrics

import "expvar"

var (
	CyclesRun       = expvar.NewInt("cycles_run")
	CyclesSkipped   = expvar.NewInt("cycles_skipped")
	EntriesOpened   = expvar.NewInt("entries_opened")
	EntriesRejected = expvar.NewInt("entries_rejected")
	HedgesPlaced    = expvar.NewInt("hedges_placed")
	ExitsClosed     = expvar.NewInt("exits_closed")
	OrdersFailed    = expvar.NewInt("orders_failed")
	PeerTradesSeen  = expvar.NewInt("peer_trades_seen")
	StreamReconnects = expvar.NewInt("stream_reconnects")
)
