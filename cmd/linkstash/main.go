package main

import (
	"github.com/joho/godotenv"

	"linkstash/cmd/linkstash/cmd"
)

func main() {
	// A .env file is optional; real environment variables always win.
	_ = godotenv.Load()

	cmd.Execute()
}
