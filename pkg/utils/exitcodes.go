package utils

const (
	// standard exit codes
	ExitCodeSuccess = iota
	ExitCodeError   = 1

	// custom exit codes
	ExitCodeUnsupportedArch = 100
	ExitCodePrepareFailed   = 101
	ExitCodeInfectFailed    = 102
	ExitCodeProbeFailed     = 103
	ExitCodeCureFailed      = 104
)
