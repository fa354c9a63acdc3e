package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemInsurancePool
	SubTypeSystemProtocolFees
	SubTypeSystemInvoiceEscrow

	// External sub-types
	SubTypeExternalDeposits
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name or invoice id for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewWalletKey creates the spendable token account of a participant
func NewWalletKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for singleton system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

func InsurancePoolKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey("insurance", SubTypeSystemInsurancePool, assetID)
}

func ProtocolFeesKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey("protocol", SubTypeSystemProtocolFees, assetID)
}

// NewEscrowKey is the transit account holding an invoice's principal while
// it moves from investor to business. Nets to zero after every batch.
func NewEscrowKey(invoiceID uint64, assetID AssetID) AccountKey {
	var entityID [16]byte
	binary.BigEndian.PutUint64(entityID[8:], invoiceID)
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  SubTypeSystemInvoiceEscrow,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		if k.SubType == SubTypeSystemInvoiceEscrow {
			return fmt.Sprintf("system:%s:%d:%s", k.subTypeName(), binary.BigEndian.Uint64(k.EntityID[8:]), assetName)
		}
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemInsurancePool:
		return "insurance_pool"
	case SubTypeSystemProtocolFees:
		return "protocol_fees"
	case SubTypeSystemInvoiceEscrow:
		return "escrow"
	case SubTypeExternalDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}

// Owner returns the participant of a wallet account.
func (k AccountKey) Owner() (uuid.UUID, bool) {
	if k.Scope != AccountScopeUser {
		return uuid.Nil, false
	}
	return uuid.UUID(k.EntityID), true
}
