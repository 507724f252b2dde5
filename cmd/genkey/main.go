package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/agentwire-protocol/agentwire/internal/identity"
)

func main() {
	seed := flag.String("seed", "", "Derive a deterministic identity from this seed phrase")
	index := flag.Uint64("index", 0, "Key index for seed derivation")
	flag.Parse()

	var id *identity.Identity
	if *seed != "" {
		var err error
		id, err = identity.FromSeed(*seed, *index)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Key derivation failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		id = identity.Generate()
	}

	fmt.Printf("Address:              %s\n", id.Address())
	fmt.Printf("Private key (base64): %s\n", id.PrivateKey())
}
