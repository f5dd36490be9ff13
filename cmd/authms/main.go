package main

import (
	"log"

	"github.com/puse45/auth-ms/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
