package main

import (
	"fmt"
	"os"

	"github.com/aussiebroadwan/smsgate/internal/challenge/app"
)

func main() {
	application, err := app.New(app.LoadConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "smsgate:", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "smsgate:", err)
		os.Exit(1)
	}
}
