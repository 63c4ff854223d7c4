// Command assistantctl inspects the scheduling engine and a running
// assistant from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "assistantctl",
		Usage: "Operate the voice assistant's scheduling engine.",
		Commands: []*cli.Command{
			authCommand(),
			slotsCommand(),
			checkCommand(),
			statsCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "assistantctl: %v\n", err)
		os.Exit(1)
	}
}
