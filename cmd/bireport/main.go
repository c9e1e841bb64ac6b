package main

import (
	"fmt"
	"os"

	"bireport/cmd/handlers"
	"bireport/internal/logger"
)

func main() {
	logger.Init()
	if err := handlers.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
