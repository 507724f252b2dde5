package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire-protocol/agentwire/internal/dispense"
	"github.com/agentwire-protocol/agentwire/internal/envelope"
	"github.com/agentwire-protocol/agentwire/internal/identity"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	seed := flag.String("seed", "", "Seed phrase (alternative to -key)")
	target := flag.String("to", "", "Target agent address")
	endpoint := flag.String("endpoint", "", "Submit endpoint URL, e.g. http://host:8000/v1/submit")
	digest := flag.String("digest", "", "Schema digest of the message, e.g. model:<hex>")
	bodyFile := flag.String("body", "", "File containing message JSON (or use stdin)")
	sync := flag.Bool("sync", false, "Wait for an inline response envelope")
	flag.Parse()

	if (*privKeyB64 == "" && *seed == "") || *target == "" || *endpoint == "" || *digest == "" {
		fmt.Fprintln(os.Stderr, "Usage: send -key <private-key-base64>|-seed <phrase> -to <address> -endpoint <url> -digest <model:hex> [-body <file>] [-sync]")
		fmt.Fprintln(os.Stderr, "  Reads message body from stdin if -body not specified")
		os.Exit(1)
	}

	var id *identity.Identity
	var err error
	if *privKeyB64 != "" {
		id, err = identity.FromPrivateKey(*privKeyB64)
	} else {
		id, err = identity.FromSeed(*seed, 0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid key material: %v\n", err)
		os.Exit(1)
	}

	// Read body
	var body []byte
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	env := envelope.New(id.Address(), *target, uuid.NewString(), *digest)
	env.EncodePayload(body)
	env.Sign(id)

	payload, err := json.Marshal(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode envelope: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, *endpoint, bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid endpoint: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if *sync {
		req.Header.Set(dispense.SyncHeader, "sync")
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delivery failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "Delivery rejected (%d): %s\n", resp.StatusCode, respBody)
		os.Exit(1)
	}

	fmt.Printf("Session: %s\n", env.Session)
	if !*sync {
		fmt.Println("Delivered.")
		return
	}

	var response envelope.Envelope
	if err := json.Unmarshal(respBody, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Malformed response envelope: %v\n", err)
		os.Exit(1)
	}
	if response.Signature != "" {
		if err := response.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "Response signature invalid: %v\n", err)
			os.Exit(1)
		}
	}
	decoded, err := response.DecodePayload()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Malformed response payload: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Response from %s: %s\n", response.Sender, decoded)
}
