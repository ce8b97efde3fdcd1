/*
Command devtoken mints a bearer token for local development, standing in for
the StudySphere auth service.

	devtoken -id u1 -name "Ada Lovelace" -email ada@example.com
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"studysphere/internal/configs"
	"studysphere/internal/pkg/auth/jwt"
)

func main() {
	_ = godotenv.Load()

	id := flag.String("id", "", "user id (required)")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "account email")
	userType := flag.String("type", "student", "user type")
	ttl := flag.Duration("ttl", jwt.UserIdentityExpiration, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to $JWT_SECRET)")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "devtoken: -id is required")
		flag.Usage()
		os.Exit(2)
	}
	if *secret == "" {
		*secret = configs.DevJWTSecret
		fmt.Fprintln(os.Stderr, "devtoken: JWT_SECRET not set, using the development default")
	}

	token, err := jwt.GenerateToken(&jwt.Payload{
		ID:       *id,
		Name:     *name,
		Email:    *email,
		UserType: *userType,
	}, *secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
}
