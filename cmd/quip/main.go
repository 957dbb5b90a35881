// Package main provides the quip command-line client.
//
// Commands that talk to the directory server or to friends log in for the
// duration of the command and log out when it ends. "quip serve" stays
// online, accepting friends until interrupted.
//
// The store passphrase is read from QUIP_PASSPHRASE, which may be set in a
// .env file in the working directory, or from --passphrase.
//
// Examples:
//
//	quip register alice --invite 4f2c...
//	quip friend request 6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90 "it's alice"
//	quip serve
//	quip message 6f1d3c2e-9b7a-4c1e-8f3a-2d5b6c7e8f90 "hello"
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
