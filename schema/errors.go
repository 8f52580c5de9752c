package schema

import "errors"

var (
	// ErrServerExited indicates the server process terminated on its own.
	ErrServerExited = errors.New("server exited")
	// ErrServerNotRunning indicates an operation that needs a live server.
	ErrServerNotRunning = errors.New("server not running")
	// ErrSaveNotConfirmed indicates the engine never reported a finished save.
	ErrSaveNotConfirmed = errors.New("save not confirmed by server")
	// ErrSaveNotFound indicates a named archive entry could not be found.
	ErrSaveNotFound = errors.New("save not found")
	// ErrAutosaveOutOfRange indicates the requested autosave index does not exist.
	ErrAutosaveOutOfRange = errors.New("autosave index out of range")
	// ErrEmptyCommandLine indicates no startup command could be built.
	ErrEmptyCommandLine = errors.New("empty startup command")
)
