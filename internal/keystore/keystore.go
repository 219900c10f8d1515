// Package keystore loads and persists the tag's identity keys. Keys live
// in the settings table of the sqlite store; when a stored key is missing
// or malformed the factory default is used instead.
package keystore

import (
	"context"
	"fmt"

	"hybridtag/internal/identity"
)

const (
	settingAppleKey  = "keys/apple"
	settingGoogleKey = "keys/google"
)

// Settings is the slice of db.Store the keystore needs.
type Settings interface {
	GetSetting(ctx context.Context, key string) ([]byte, bool, error)
	PutSetting(ctx context.Context, key string, value []byte) error
	DeleteSetting(ctx context.Context, key string) error
}

// State is the key material currently in effect plus whether each key
// came from the store or from the factory defaults.
type State struct {
	Material          identity.Material
	AppleProvisioned  bool
	GoogleProvisioned bool
}

// Load reads both keys from the store. A stored key with the wrong
// length is ignored and the default takes its place.
func Load(ctx context.Context, s Settings) (State, error) {
	st := State{Material: DefaultMaterial()}

	apple, found, err := s.GetSetting(ctx, settingAppleKey)
	if err != nil {
		return State{}, fmt.Errorf("load apple key: %w", err)
	}
	if found && len(apple) == identity.AppleKeyLen {
		st.Material.AppleKey = append([]byte(nil), apple...)
		st.AppleProvisioned = true
	}

	google, found, err := s.GetSetting(ctx, settingGoogleKey)
	if err != nil {
		return State{}, fmt.Errorf("load google key: %w", err)
	}
	if found && len(google) == identity.GoogleKeyLen {
		st.Material.GoogleKey = append([]byte(nil), google...)
		st.GoogleProvisioned = true
	}

	return st, nil
}

// Commit persists a newly provisioned key for p. The key length must
// match the protocol exactly; nothing is written otherwise.
func Commit(ctx context.Context, s Settings, p identity.Protocol, key []byte) error {
	var name string
	var want int
	switch p {
	case identity.ProtocolApple:
		name, want = settingAppleKey, identity.AppleKeyLen
	case identity.ProtocolGoogle:
		name, want = settingGoogleKey, identity.GoogleKeyLen
	default:
		return fmt.Errorf("unknown protocol %d", p)
	}
	if len(key) != want {
		return fmt.Errorf("%s key must be %d bytes, got %d", p, want, len(key))
	}
	if err := s.PutSetting(ctx, name, append([]byte(nil), key...)); err != nil {
		return fmt.Errorf("persist %s key: %w", p, err)
	}
	return nil
}

// Clear removes both stored keys so the next Load returns the defaults.
func Clear(ctx context.Context, s Settings) error {
	if err := s.DeleteSetting(ctx, settingAppleKey); err != nil {
		return err
	}
	return s.DeleteSetting(ctx, settingGoogleKey)
}
