package build

import (
	"strings"
	"sync"
	"testing"
)

func TestRandomTokenAlphabet(t *testing.T) {
	t.Parallel()

	token, err := RandomToken(TokenLength)
	if err != nil {
		t.Fatalf("RandomToken() error = %v", err)
	}
	if len(token) != TokenLength {
		t.Fatalf("len(token) = %d, want %d", len(token), TokenLength)
	}
	if strings.Trim(token, tokenAlphabet) != "" {
		t.Fatalf("token %q has characters outside [A-Z0-9]", token)
	}
}

func TestObjectKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	const submissions = 256
	keys := make(chan string, submissions)
	var wg sync.WaitGroup
	for range submissions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := RandomToken(TokenLength)
			if err != nil {
				t.Errorf("RandomToken() error = %v", err)
				return
			}
			keys <- ObjectKey("design.tar", "10.0.0.5", token)
		}()
	}
	wg.Wait()
	close(keys)

	seen := map[string]bool{}
	for key := range keys {
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
}

func TestObjectKeyFormat(t *testing.T) {
	t.Parallel()

	if got := ObjectKey("design.tar", "localhost", "ABCDE12345"); got != "design.tar-localhost-ABCDE12345.tar" {
		t.Fatalf("ObjectKey() = %q", got)
	}
}
