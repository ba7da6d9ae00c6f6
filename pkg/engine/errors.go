package engine

import "errors"

var (
	// ErrStartupConfiguration marks configuration the relay cannot start with.
	ErrStartupConfiguration = errors.New("engine: invalid startup configuration")

	// ErrExchangeTimeout is the cause of an exchange that outlived exchange_timeout.
	ErrExchangeTimeout = errors.New("engine: exchange timed out")

	// ErrClientGone is the cause of an exchange cancelled by a disconnect.
	ErrClientGone = errors.New("engine: client disconnected")

	// ErrBusy is returned by Send while another exchange is in flight.
	ErrBusy = errors.New("engine: session busy")
)
