// Package signer produces secp256k1 signatures for a strategy's EOA.
package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
)

// SignatureLength is R || S || V with V in {0, 1}.
const SignatureLength = crypto.SignatureLength

//go:generate mockgen -destination=mocks/mock_signer.go -package=mocks . Signer

// Signer signs 32-byte digests with the key at a derivation path.
type Signer interface {
	Sign(ctx context.Context, digest []byte, path string) ([]byte, error)
	// PublicKey returns the uncompressed 65-byte public key.
	PublicKey(ctx context.Context, path string) ([]byte, error)
}

// Address derives the Ethereum address of an uncompressed public key.
func Address(pub []byte) (common.Address, error) {
	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: public key: %w", retry.ErrDecoding, err)
	}
	return crypto.PubkeyToAddress(*key), nil
}

// VerifyAddress checks that the signer holds the key for the expected EOA.
func VerifyAddress(ctx context.Context, s Signer, path string, expected common.Address) error {
	pub, err := s.PublicKey(ctx, path)
	if err != nil {
		return fmt.Errorf("signer public key: %w", err)
	}
	got, err := Address(pub)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: signer key %s does not control %s", retry.ErrUnauthorized, got.Hex(), expected.Hex())
	}
	return nil
}

// SignTx signs tx for chainID and returns the signed copy.
func SignTx(ctx context.Context, s Signer, tx *types.Transaction, chainID *big.Int, path string) (*types.Transaction, error) {
	txSigner := types.LatestSignerForChainID(chainID)
	sig, err := s.Sign(ctx, txSigner.Hash(tx).Bytes(), path)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: signature is %d bytes", retry.ErrDecoding, len(sig))
	}
	signed, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: attach signature: %w", retry.ErrDecoding, err)
	}
	return signed, nil
}
