// Command vision sends a prompt plus optional files to a multimodal model.
//
// Examples:
//
//	vision analyze -p "Compare these ads" ad1.jpg ad2.png brief.pdf
//	vision analyze --provider anthropic --model claude-3-5-sonnet-20240620 -f prompt.txt scan.pdf
//	vision serve --listen :8080
//	vision models
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vision:", err)
		stop()
		os.Exit(1)
	}
}
