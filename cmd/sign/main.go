package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eldtechnologies/thomas/internal/api/middleware"
)

func main() {
	keyFile := flag.String("key", "", "PEM file containing the RSA private key")
	userID := flag.String("user", "", "User ID to put in the sub claim")
	issuer := flag.String("issuer", "", "Issuer claim (must match CLERK_ISSUER when set)")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	if *keyFile == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key.pem> -user <user-id> [-issuer <iss>] [-ttl 1h]")
		os.Exit(1)
	}

	pemBytes, err := os.ReadFile(*keyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read key: %v\n", err)
		os.Exit(1)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.IssueSessionToken(key, *userID, *issuer, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Authorization: Bearer %s\n", token)
}
