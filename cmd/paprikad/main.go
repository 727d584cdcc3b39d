package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/faustyu/paprika/internal/app"
	"github.com/faustyu/paprika/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	chatFlag := flag.Int64("chat", 0, "chat ID to activate on start")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{
			SessionName: sessionName,
			ChatID:      *chatFlag,
		}),
	).Run()
}
