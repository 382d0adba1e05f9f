// Command api serves the CAPTCHA solving API and runs the deposit
// reconciliation workers.
package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/captcha-solver-api/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "captcha-solver-api: %v\n", err)
		os.Exit(1)
	}
}
