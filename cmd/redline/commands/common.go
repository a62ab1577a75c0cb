package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/quillworks/redline/internal/remote"
)

// defaultServerURL is used when neither the flag nor the environment names a
// server.
const defaultServerURL = "http://localhost:8433"

// getClient builds the API client from the flags and environment.
func getClient() (*remote.Client, error) {
	url := serverURL
	if url == "" {
		url = os.Getenv("REDLINE_SERVER")
	}
	if url == "" {
		url = defaultServerURL
	}

	token := authToken
	if token == "" {
		token = os.Getenv("REDLINE_TOKEN")
	}
	if token == "" {
		return nil, errors.New("no bearer token: set --token or " +
			"$REDLINE_TOKEN")
	}

	return remote.NewClient(&remote.Config{
		BaseURL: url,
		Token:   token,
	}), nil
}

// outputJSON prints the value as indented JSON.
func outputJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	fmt.Println(string(out))

	return nil
}
