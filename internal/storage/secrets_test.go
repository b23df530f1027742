package storage

import (
	"errors"
	"testing"
)

func TestSaveRevealedSecret(t *testing.T) {
	store := newTestStorage(t)

	r := &RevealedSecret{
		Hashlock:       "aabbcc",
		CoordinationID: "coord-1",
		EscrowID:       "esc-dst",
		Secret:         "deadbeef",
		SourceChain:    "ICP",
	}
	if err := store.SaveRevealedSecret(r); err != nil {
		t.Fatalf("SaveRevealedSecret() error = %v", err)
	}

	got, err := store.GetRevealedSecret("aabbcc")
	if err != nil {
		t.Fatalf("GetRevealedSecret() error = %v", err)
	}
	if got.Secret != "deadbeef" || got.SourceChain != "ICP" {
		t.Errorf("got %+v", got)
	}
	if got.ObservedAt.IsZero() {
		t.Error("ObservedAt should be set")
	}

	// Same hashlock, same coordination: idempotent
	if err := store.SaveRevealedSecret(r); err != nil {
		t.Errorf("repeat SaveRevealedSecret() error = %v", err)
	}

	// Same hashlock, different coordination: rejected
	other := &RevealedSecret{
		Hashlock:       "aabbcc",
		CoordinationID: "coord-2",
		EscrowID:       "esc-x",
		Secret:         "deadbeef",
		SourceChain:    "ETH",
	}
	if err := store.SaveRevealedSecret(other); !errors.Is(err, ErrHashlockUsed) {
		t.Errorf("SaveRevealedSecret(reused hashlock) = %v, want ErrHashlockUsed", err)
	}
}

func TestGetRevealedSecretNotFound(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.GetRevealedSecret("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("GetRevealedSecret(missing) = %v, want ErrSecretNotFound", err)
	}
}

func TestIsHashlockUsed(t *testing.T) {
	store := newTestStorage(t)

	used, err := store.IsHashlockUsed("aabbcc")
	if err != nil {
		t.Fatalf("IsHashlockUsed() error = %v", err)
	}
	if used {
		t.Error("unused hashlock reported as used")
	}

	store.SaveRevealedSecret(&RevealedSecret{
		Hashlock:       "aabbcc",
		CoordinationID: "coord-1",
		EscrowID:       "esc-1",
		Secret:         "deadbeef",
		SourceChain:    "SIMA",
	})

	used, _ = store.IsHashlockUsed("aabbcc")
	if !used {
		t.Error("bound hashlock reported as unused")
	}
}
