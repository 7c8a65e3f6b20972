package main

import (
	"os"

	"github.com/punchbot/punchbot/botservice"
)

func main() {
	if err := botservice.Run(); err != nil {
		os.Exit(1)
	}
}
