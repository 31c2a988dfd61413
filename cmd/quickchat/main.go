package main

import (
	"os"

	"github.com/Ramanapenmetsa01/Quick-chat/cmd/quickchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
