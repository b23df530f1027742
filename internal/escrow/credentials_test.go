package escrow

import (
	"errors"
	"strings"
	"testing"

	"github.com/crosslock-exchange/crosslock/internal/storage"
)

func newTestCredentials(t *testing.T) *Credentials {
	t.Helper()

	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCredentials(store)
}

func TestRegisterCredential(t *testing.T) {
	creds := newTestCredentials(t)

	if err := creds.Register("resolver", testPubKey); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	has, err := creds.Has("resolver")
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if !has {
		t.Error("Has() = false after Register")
	}

	got, err := creds.Get("resolver")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PubKey != testPubKey {
		t.Errorf("PubKey = %s", got.PubKey)
	}
}

func TestRegisterRejectsInvalidKeys(t *testing.T) {
	creds := newTestCredentials(t)

	tests := []struct {
		name   string
		caller string
		pubkey string
	}{
		{"empty caller", "", testPubKey},
		{"bad hex", "resolver", "zz" + testPubKey[2:]},
		{"wrong length", "resolver", testPubKey[:40]},
		{"uncompressed prefix", "resolver", "04" + testPubKey[2:]},
		{"not on curve", "resolver", "02" + strings.Repeat("ff", 32)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := creds.Register(tc.caller, tc.pubkey); !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("Register() = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestListCredentials(t *testing.T) {
	creds := newTestCredentials(t)

	creds.Register("a", testPubKey)
	// 2G compressed, another valid point.
	creds.Register("b", "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5")

	list, err := creds.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d credentials, want 2", len(list))
	}
}
