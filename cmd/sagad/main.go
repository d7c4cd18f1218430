// Command sagad runs one process role of the order saga: the orchestrator,
// the order service or one of the participants.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
