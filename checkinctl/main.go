package main

import (
	"fmt"
	"os"

	"github.com/Vinubaba/kids-checkin/checkinctl/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
