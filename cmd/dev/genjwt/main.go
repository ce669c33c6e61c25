// Command genjwt prints a signed development token.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
)

func main() {
	role := flag.String("role", "buyer", "user_type claim: buyer, driver or admin")
	user := flag.String("user", "", "user id (random when empty)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-123"
	}
	userID := *user
	if userID == "" {
		userID = uuid.New().String()
	} else if _, err := uuid.Parse(userID); err != nil {
		fmt.Fprintln(os.Stderr, "invalid --user:", err)
		os.Exit(2)
	}

	claims := jwt.MapClaims{
		"user_id":   userID,
		"user_type": *role,
		"exp":       time.Now().Add(*ttl).Unix(),
		"iat":       time.Now().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	fmt.Println(signed)
}
