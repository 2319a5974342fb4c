package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-booking/internal/api"
)

// token prints a doctor bearer token for local testing of the protected
// doctor endpoints.
func main() {
	_ = godotenv.Load()

	doctor := flag.String("doctor", "", "doctor id (token subject)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}

	doctorID, err := uuid.Parse(*doctor)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-doctor must be a valid UUID")
		os.Exit(2)
	}

	token, err := api.IssueDoctorToken(secret, doctorID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
