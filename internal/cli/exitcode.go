package cmd

// Exit codes returned by Execute via os.Exit, per the CLI's external
// contract: 0 success, 2 usage, 3 not-found, 4 an analyzer run produced
// failing findings, 5 internal error.
const (
	ExitSuccess      = 0
	ExitUsage        = 2
	ExitNotFound     = 3
	ExitAnalyzerFail = 4
	ExitInternal     = 5
)

// cliError pairs a message already written to stderr with the process
// exit code it should produce. Subcommands return one of these instead
// of calling os.Exit directly, so Execute is the only place that exits.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func usageError(err error) *cliError    { return &cliError{code: ExitUsage, err: err} }
func notFoundError(err error) *cliError { return &cliError{code: ExitNotFound, err: err} }
func internalError(err error) *cliError { return &cliError{code: ExitInternal, err: err} }
