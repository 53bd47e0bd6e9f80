package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/syncd/internal/cli"
)

func main() {
	// optional; real environment variables win
	_ = godotenv.Load(".env")

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
