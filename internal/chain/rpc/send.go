package rpc

import (
	"encoding/json"
	"strings"
)

// SendStatus classifies the result of eth_sendRawTransaction.
type SendStatus string

const (
	SendStatusUnknown           SendStatus = "unknown"
	SendStatusOK                SendStatus = "ok"
	SendStatusNonceTooLow       SendStatus = "nonce_too_low"
	SendStatusNonceTooHigh      SendStatus = "nonce_too_high"
	SendStatusInsufficientFunds SendStatus = "insufficient_funds"
)

// Usable reports whether the status says something definitive about the
// transaction's nonce, so that one provider reporting it is enough.
func (s SendStatus) Usable() bool {
	switch s {
	case SendStatusOK, SendStatusNonceTooLow, SendStatusNonceTooHigh:
		return true
	default:
		return false
	}
}

// ClassifySend maps a broadcast result onto a SendStatus. A transaction the
// node already holds in its pool is reported as accepted.
func ClassifySend(result json.RawMessage, err error) SendStatus {
	if err == nil {
		if len(result) == 0 || string(result) == "null" {
			return SendStatusUnknown
		}
		return SendStatusOK
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "already known"),
		strings.Contains(lower, "known transaction"):
		return SendStatusOK
	case strings.Contains(lower, "nonce too low"),
		strings.Contains(lower, "nonce has already been used"):
		return SendStatusNonceTooLow
	case strings.Contains(lower, "nonce too high"),
		strings.Contains(lower, "nonce gap"):
		return SendStatusNonceTooHigh
	case strings.Contains(lower, "insufficient funds"):
		return SendStatusInsufficientFunds
	default:
		return SendStatusUnknown
	}
}
