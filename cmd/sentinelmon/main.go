package main

import (
	"github.com/joho/godotenv"

	"sentinel-monitor/internal/cli"
)

func main() {
	// Missing .env is fine; real deployments configure via environment.
	_ = godotenv.Load()

	cli.Execute()
}
