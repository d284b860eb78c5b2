package deposit

import (
	"encoding/json"
	"fmt"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
)

// DefaultStorageDeposit is the yoctoNEAR attached when registering the recipient on a token contract
const DefaultStorageDeposit = "1250000000000000000000"

// Deposit types reported to the relay
const (
	TypePlain      = 0
	TypeWithAction = 1
)

// StorageDepositMsg asks the bridge to register the recipient before minting
type StorageDepositMsg struct {
	ContractID       string `json:"contract_id"`
	Deposit          string `json:"deposit"`
	RegistrationOnly bool   `json:"registration_only"`
}

// ExtraMsg is the JSON object carried as a string in DepositMsg.ExtraMsg
type ExtraMsg struct {
	StorageDepositMsg *StorageDepositMsg `json:"storage_deposit_msg,omitempty"`
	BTCPublicKey      string             `json:"btc_public_key,omitempty"`
}

// IsEmpty reports whether no registration is needed
func (m ExtraMsg) IsEmpty() bool {
	return m.StorageDepositMsg == nil && m.BTCPublicKey == ""
}

// DepositMsg keys the per-intent deposit address on the bridge contract. Identical
// messages derive the same address.
type DepositMsg struct {
	RecipientID string             `json:"recipient_id"`
	PostActions []types.PostAction `json:"post_actions,omitempty"`
	ExtraMsg    string             `json:"extra_msg,omitempty"`
}

// Type returns the relay deposit type for the message
func (m DepositMsg) Type() int {
	if len(m.PostActions) > 0 || m.ExtraMsg != "" {
		return TypeWithAction
	}
	return TypePlain
}

// postActionsJSON returns the post actions as JSON, or nil when there are none
func (m DepositMsg) postActionsJSON() (json.RawMessage, error) {
	if len(m.PostActions) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m.PostActions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal post actions: %w", err)
	}
	return raw, nil
}

// buildDepositMsg assembles the message from the recipient, post actions and registration needs
func buildDepositMsg(csna string, postActions []types.PostAction, extra ExtraMsg) (DepositMsg, error) {
	msg := DepositMsg{RecipientID: csna, PostActions: postActions}
	if extra.IsEmpty() {
		return msg, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return DepositMsg{}, fmt.Errorf("failed to marshal extra msg: %w", err)
	}
	msg.ExtraMsg = string(raw)
	return msg, nil
}
