// Command gateway runs the WhatsApp table-booking gateway: the HTTP API,
// the delivery workers, and schema migration.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
