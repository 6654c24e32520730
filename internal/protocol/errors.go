package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Run routing/state.
	ErrRunBusy     = "E_RUN_BUSY"
	ErrRunNotFound = "E_RUN_NOT_FOUND"
	ErrRunDone     = "E_RUN_DONE"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRunBusy:         {},
	ErrRunNotFound:     {},
	ErrRunDone:         {},
	ErrBadRequest:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
