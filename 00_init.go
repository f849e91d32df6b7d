package main

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// debugMode turns on verbose request logging across every surface
var debugMode bool

func init() {
	// Load .env file before anything else
	if err := godotenv.Load(); err != nil {
		// Only log errors - this is important to always see
		log.Printf("No .env file found: %v", err)
	}
	debugMode, _ = strconv.ParseBool(os.Getenv("DEBUG"))
}
