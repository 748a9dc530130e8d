package ledger

import (
	"fmt"
	"strconv"
	"strings"

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
	SubTypePayout AccountSubType = iota

	// System sub-types
	SubTypeSystemInsuranceVault
	SubTypeSystemSpotVault

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalFees
	SubTypeExternalAdjustments
)

// PoolID identifies the fund pool (and thereby the asset) an account holds
type PoolID uint16

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system/external accounts
	SubType  AccountSubType
	PoolID   PoolID
}

// NewUserAccountKey creates a key for a staker's account
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, pool PoolID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		PoolID:   pool,
	}
}

// NewSystemAccountKey creates a key for a vault account
func NewSystemAccountKey(subType AccountSubType, pool PoolID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		PoolID:  pool,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, pool PoolID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		PoolID:  pool,
	}
}

func InsuranceVault(pool PoolID) AccountKey {
	return NewSystemAccountKey(SubTypeSystemInsuranceVault, pool)
}

func SpotVault(pool PoolID) AccountKey {
	return NewSystemAccountKey(SubTypeSystemSpotVault, pool)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%d", uid.String(), k.subTypeName(), k.PoolID)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%d", k.subTypeName(), k.PoolID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%d", k.subTypeName(), k.PoolID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypePayout:
		return "payout"
	case SubTypeSystemInsuranceVault:
		return "insurance_vault"
	case SubTypeSystemSpotVault:
		return "spot_vault"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalFees:
		return "fees"
	case SubTypeExternalAdjustments:
		return "adjustments"
	default:
		return "unknown"
	}
}

var subTypesByName = map[string]AccountSubType{
	"payout":          SubTypePayout,
	"insurance_vault": SubTypeSystemInsuranceVault,
	"spot_vault":      SubTypeSystemSpotVault,
	"deposits":        SubTypeExternalDeposits,
	"withdrawals":     SubTypeExternalWithdrawals,
	"fees":            SubTypeExternalFees,
	"adjustments":     SubTypeExternalAdjustments,
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var key AccountKey
	var subType, pool string
	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		key.Scope = AccountScopeUser
		key.EntityID = uid
		subType, pool = parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "system":
		key.Scope = AccountScopeSystem
		subType, pool = parts[1], parts[2]
	case len(parts) == 3 && parts[0] == "external":
		key.Scope = AccountScopeExternal
		subType, pool = parts[1], parts[2]
	default:
		return AccountKey{}, fmt.Errorf("account path %q: malformed", path)
	}

	st, ok := subTypesByName[subType]
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, subType)
	}
	id, err := strconv.ParseUint(pool, 10, 16)
	if err != nil {
		return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
	}
	key.SubType = st
	key.PoolID = PoolID(id)
	return key, nil
}
