package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType reports an event type outside the platform vocabulary.
var ErrUnknownType = errors.New("unknown event type")

// Decode unmarshals an event payload into its typed form. The returned value
// is the struct (not a pointer) for the matching Type* constant.
func Decode(eventType string, payload json.RawMessage) (any, error) {
	switch eventType {
	case TypeProposalCreated:
		return decodeAs[ProposalCreated](eventType, payload)
	case TypeVoteCast:
		return decodeAs[VoteCast](eventType, payload)
	case TypeProposalFinalized:
		return decodeAs[ProposalFinalized](eventType, payload)
	case TypeProposalExecuted:
		return decodeAs[ProposalExecuted](eventType, payload)
	case TypeProposalCancelled:
		return decodeAs[ProposalCancelled](eventType, payload)
	case TypeMemberAdded:
		return decodeAs[MemberAdded](eventType, payload)
	case TypeKycVerified:
		return decodeAs[KycVerified](eventType, payload)
	case TypeTreasuryDeposit:
		return decodeAs[TreasuryDeposit](eventType, payload)
	case TypeTreasuryWithdrawal:
		return decodeAs[TreasuryWithdrawal](eventType, payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, eventType)
	}
}

func decodeAs[T any](eventType string, payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return v, nil
}

// Ref extracts the governance reference an event is about: "proposal:<id>",
// "member:<address>", or "withdrawal:<id>". Unknown or malformed payloads
// yield "" rather than an error; the reference is an index hint, not data.
func Ref(eventType string, payload json.RawMessage) string {
	switch eventType {
	case TypeProposalCreated, TypeVoteCast, TypeProposalFinalized,
		TypeProposalExecuted, TypeProposalCancelled:
		var p struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return ""
		}
		return fmt.Sprintf("proposal:%d", p.ID)

	case TypeMemberAdded, TypeKycVerified:
		var p struct {
			Member string `json:"member"`
		}
		if json.Unmarshal(payload, &p) != nil || p.Member == "" {
			return ""
		}
		return "member:" + p.Member

	case TypeTreasuryDeposit:
		var p struct {
			From string `json:"from"`
		}
		if json.Unmarshal(payload, &p) != nil || p.From == "" {
			return ""
		}
		return "member:" + p.From

	case TypeTreasuryWithdrawal:
		var p struct {
			WithdrawalID int64 `json:"withdrawalId"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return ""
		}
		return fmt.Sprintf("withdrawal:%d", p.WithdrawalID)

	default:
		return ""
	}
}
