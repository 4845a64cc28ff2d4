// billboard-proxy relays billboard readability analysis prompts from the
// dashboard to the OpenAI chat-completions API.
//
// Usage:
//
//	# Start the proxy (OPENAI_API_KEY from the environment)
//	billboard-proxy serve
//
//	# Start with a config file; edits to the file are picked up live
//	billboard-proxy serve --config billboard-proxy.yaml
//
//	# Hash a dashboard user's password for auth.users
//	echo -n 's3cret' | billboard-proxy hash-password
//
//	# Mint a session token for a configured user
//	billboard-proxy token --email planner@example.com --config billboard-proxy.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
