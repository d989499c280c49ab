// Package main is an operator utility that prints a fresh ENCRYPTION_KEY. The key
// seals provider secrets, in-progress flow state and linked account tokens at
// rest, so losing it makes every stored link unreadable; keep it with the
// database backups. Run with: go run scripts/generate-key.go [-salt]
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"

	"github.com/xerolink/xerolink/internal/crypto"
)

func main() {
	salt := flag.Bool("salt", false, "also print a salt for passphrase-derived keys")
	flag.Parse()

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Encryption Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nENCRYPTION_KEY=%s\n", base64.StdEncoding.EncodeToString(key))

	if *salt {
		s, err := crypto.GenerateSalt(16)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("\nXL_SECURITY_ENCRYPTION_SALT=%s\n", base64.StdEncoding.EncodeToString(s))
	}
	fmt.Println("\n==========================================================")
}
