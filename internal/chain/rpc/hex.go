package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

func ParseHexUint64(value string) (uint64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", value, err)
	}
	return parsed, nil
}

func ParseHexBig(value string) (*big.Int, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, fmt.Errorf("empty hex value")
	}
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	if raw == "" {
		return new(big.Int), nil
	}
	parsed, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, fmt.Errorf("parse hex %q", value)
	}
	return parsed, nil
}

func FormatHexUint64(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}

// DecodeHexString unmarshals a JSON string result such as "0x1a".
func DecodeHexString(result json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return "", fmt.Errorf("unmarshal hex string: %w", err)
	}
	return s, nil
}
