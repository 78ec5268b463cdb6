package main

import (
	"context"
	"log"

	"github.com/MrSnakeDoc/snip/internal/app"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		log.Fatalf("❌ snip failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ snip stopped with error: %v", err)
	}
}
