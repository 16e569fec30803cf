package signer

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Local derives per-path keys from a master secret held in a memguard
// enclave. Intended for development networks only.
type Local struct {
	master *memguard.Enclave
}

var _ Signer = (*Local)(nil)

// NewLocal seals a hex-encoded 32-byte master secret. The decoded bytes are
// wiped once sealed.
func NewLocal(masterHex string) (*Local, error) {
	raw, err := hexutil.Decode(masterHex)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(raw) != 32 {
		memguard.WipeBytes(raw)
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(raw))
	}
	return &Local{master: memguard.NewEnclave(raw)}, nil
}

func (l *Local) Sign(_ context.Context, digest []byte, path string) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	var sig []byte
	err := l.withKey(path, func(key []byte) error {
		priv, err := crypto.ToECDSA(key)
		if err != nil {
			return err
		}
		sig, err = crypto.Sign(digest, priv)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("local sign: %w", err)
	}
	return sig, nil
}

func (l *Local) PublicKey(_ context.Context, path string) ([]byte, error) {
	var pub []byte
	err := l.withKey(path, func(key []byte) error {
		priv, err := crypto.ToECDSA(key)
		if err != nil {
			return err
		}
		pub = crypto.FromECDSAPub(&priv.PublicKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local public key: %w", err)
	}
	return pub, nil
}

// withKey exposes keccak256(master || path) to fn and wipes it afterwards.
func (l *Local) withKey(path string, fn func(key []byte) error) error {
	buf, err := l.master.Open()
	if err != nil {
		return fmt.Errorf("open enclave: %w", err)
	}
	defer buf.Destroy()

	key := crypto.Keccak256(buf.Bytes(), []byte(path))
	defer memguard.WipeBytes(key)
	return fn(key)
}
