package alarm

import "errors"

var (
	// ErrInvalidTransition is returned when arming is requested while the
	// panel is not disarmed.
	ErrInvalidTransition = errors.New("invalid alarm transition")

	// ErrNotArmable is returned for a non-forced arm while a zone is open
	// or in trouble.
	ErrNotArmable = errors.New("alarm not armable")

	// ErrRemoteCommandFailed is returned when the remote service reports
	// that a command failed. The panel state is already reconciled.
	ErrRemoteCommandFailed = errors.New("remote command failed")

	// ErrUnknownMode is returned for an action or mode name outside the
	// panel's vocabulary.
	ErrUnknownMode = errors.New("unknown arming mode")

	// ErrUnknownService is returned by CallService for a name that is not
	// a registered service.
	ErrUnknownService = errors.New("unknown alarm service")
)
