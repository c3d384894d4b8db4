package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tonimelisma/exact-go/internal/odata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes a user-facing error. Rate-limit and API errors get a
// hint line beyond the wrapped message.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var rlErr *odata.RateLimitError
	if errors.As(err, &rlErr) {
		if rlErr.Reset.IsZero() {
			fmt.Fprintf(w, "The %s API call limit is exhausted; try again later.\n", rlErr.Kind)
		} else {
			fmt.Fprintf(w, "The %s API call limit is exhausted until %s.\n",
				rlErr.Kind, rlErr.Reset.Local().Format(time.DateTime))
		}

		return
	}

	if errors.Is(err, odata.ErrUnauthorized) {
		fmt.Fprintln(w, "The saved token was rejected; run 'exact-go login' again.")
	}
}
