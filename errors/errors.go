package errors

import "fmt"

var (
	ErrAlreadyLoggedIn  = fmt.Errorf("user already logged in")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrNameTaken        = fmt.Errorf("display name already taken")
	ErrUserNotFound     = fmt.Errorf("user not found")
	ErrRoomNotFound     = fmt.Errorf("room not found")
	ErrRoomFull         = fmt.Errorf("room is full")
	ErrRecipientOffline = fmt.Errorf("recipient is not online")
	ErrUnknownTransfer  = fmt.Errorf("unknown transfer id")
	ErrRoleClaimed      = fmt.Errorf("transfer role already claimed")
	ErrMalformedFrame   = fmt.Errorf("malformed frame")
	ErrWorkerPanic      = fmt.Errorf("worker panic")
)
