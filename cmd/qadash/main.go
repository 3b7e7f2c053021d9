package main

import (
	"log/slog"
	"os"

	"github.com/qadash/qadash"
)

func main() {
	s := qadash.New()

	if err := s.Run(); err != nil {
		slog.Error(err.Error())
		os.Exit(-1)
	}
}
