package main

import (
	"fmt"
	"os"

	"github.com/example/go-audioml/internal/engine"
)

func main() {
	err := NewRootCmd().Execute()

	shutdownErr := engine.Shutdown()
	if shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
