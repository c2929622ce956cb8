// Package session runs the per-device worker for Multigate.
//
// A Session owns one device: its command table, its device-link connector,
// and every request in flight. All protocol state lives on a single
// goroutine, so no locks guard the pending queues.
//
// Architecture:
//
//	dispatcher ──SubmitRead/SubmitWrite──▶ request queue ─┐
//	connector ───frames──────────────────▶ frame queue ───┼──▶ run loop
//	connector ───link up/down────────────▶ state queue ───┘      │
//	                                                             ▼
//	dispatcher ◀────────────────── Result channel ◀──────────────┘
//
//	dispatcher ──Tick(now)──▶ cycle schedule ──due commands──▶ dispatcher
//
// # Response matching
//
// Requests are correlated with responses per command, first in first out:
// a frame is attributed to a command by longest-opcode-prefix match and
// completes the oldest pending read of that command. Frames that match no
// opcode complete the oldest pending read overall (covers devices whose
// responses do not echo the request, JSON devices in particular). Frames
// with no pending read at all are unsolicited device updates and surface
// as reads with a nil request ID.
//
// A read that receives no response within its timeout completes with
// StatusTimedOut; late responses then count as unsolicited. Writes complete
// when the frame is handed to the link — device confirmations, where a
// protocol has them, arrive as unsolicited updates.
//
// # Cyclic reads
//
// The session holds the merged cycle schedule. Tick(now) reports each due
// command exactly once and re-arms it at now+interval: a session that was
// blocked or disconnected past several intervals does not replay the
// missed reads. The dispatcher issues the actual reads, so a due cycle
// shares an outstanding on-demand read of the same command instead of
// opening a second device transaction.
package session
