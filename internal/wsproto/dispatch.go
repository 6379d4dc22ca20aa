package wsproto

// Action tells the caller what a processed frame requires of the
// connection.
type Action int

const (
	// ActionDeliver means the frame is a text/binary message for the
	// application to handle; Out is unset.
	ActionDeliver Action = iota
	// ActionReply means Out should be written to the peer verbatim
	// (the pong reply to a ping) with no further state change.
	ActionReply
	// ActionCloseConn means Out should be written (if non-nil) and the
	// connection then transitioned to closing.
	ActionCloseConn
	// ActionIgnore means nothing should happen (pong frames are discarded).
	ActionIgnore
)

// Result is the outcome of processing one frame, mirroring the dispatch
// table: text/binary surfaced to the application, close echoed and
// closing, ping answered with pong, pong discarded, unknown opcode closed
// with code 1002.
type Result struct {
	Action Action
	Out    []byte
}

// Process implements the frame dispatch rules for an already-parsed
// frame.
func Process(f Frame) Result {
	switch f.Opcode {
	case OpText, OpBinary:
		return Result{Action: ActionDeliver}

	case OpClose:
		if len(f.Payload) >= 2 {
			code := uint16(f.Payload[0])<<8 | uint16(f.Payload[1])
			var reason string
			if len(f.Payload) > 2 {
				reason = string(f.Payload[2:])
			}
			return Result{Action: ActionCloseConn, Out: BuildClose(code, reason)}
		}
		return Result{Action: ActionCloseConn, Out: BuildClose(1000, "Normal closure")}

	case OpPing:
		return Result{Action: ActionReply, Out: BuildFrame(OpPong, f.Payload)}

	case OpPong:
		return Result{Action: ActionIgnore}

	default:
		return Result{Action: ActionCloseConn, Out: BuildClose(1002, "Protocol error")}
	}
}
