// Command credhash manages the bcrypt credential for AUDITD_SERVICE_CRED_HASH,
// the basic-auth fallback accepted from append-only service accounts. It
// hashes a secret read from a pipe, or with -verify checks a secret against an
// existing hash without re-issuing it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	verify := flag.String("verify", "", "check the piped secret against this hash instead of hashing")
	flag.Parse()

	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "cost %d outside bcrypt range [%d, %d]\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}

	secret, err := pipedSecret()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read secret: %v\n", err)
		os.Exit(1)
	}

	if *verify != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(*verify), []byte(secret)); err != nil {
			fmt.Fprintln(os.Stderr, "secret does not match hash")
			os.Exit(1)
		}
		fmt.Println("secret matches hash")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash secret: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

// pipedSecret reads one line from a non-interactive stdin. A terminal is
// refused so the secret never lands in shell history or a scrollback buffer.
func pipedSecret() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("pipe the secret on stdin, e.g. printf '%%s' secret | credhash")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", fmt.Errorf("secret is empty")
	}
	return secret, nil
}
