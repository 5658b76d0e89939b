// Command admintoken mints a bearer token for the admin API. The token is
// signed with the same HS256 secret the server verifies with; the subject
// claim becomes the actor id recorded in the journal.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := flag.String("secret", "", "HS256 signing secret (must match JWT_SECRET on the server)")
	subject := flag.String("subject", "", "Subject claim, recorded as the acting admin in the journal")
	expiry := flag.Duration("expiry", 8*time.Hour, "Token lifetime (e.g. 30m, 8h)")
	flag.Parse()

	if *secret == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -secret and -subject are required")
		flag.Usage()
		os.Exit(1)
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": *subject,
		"iat": now.Unix(),
		"exp": now.Add(*expiry).Unix(),
	})
	signed, err := token.SignedString([]byte(*secret))
	if err != nil {
		slog.Error("Failed to sign token", "err", err)
		os.Exit(1)
	}

	fmt.Println(signed)
}
