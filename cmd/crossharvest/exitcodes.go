package main

// Process exit codes.
const (
	ExitSuccess     = 0   // Success, including runs that stopped on a limit or stall
	ExitError       = 1   // General error (invalid arguments, runtime failure)
	ExitConfigError = 2   // Configuration error (invalid values, unreadable file)
	ExitDataError   = 3   // Data error (malformed catalog, unknown run)
	ExitRunFailed   = 4   // Harvest ended on a transport or store error
	ExitInterrupted = 130 // Harvest canceled by SIGINT/SIGTERM
)
