package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidCommand = errors.New("invalid command")

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeStake
	CommandTypeRequestUnstake
	CommandTypeCancelUnstake
	CommandTypeUnstake
	CommandTypeSettleRevenue
	CommandTypeResolveDeficit
	CommandTypeInitPool
	CommandTypeUpdatePool
	CommandTypeInitMarket
	CommandTypeUpdateMarket
	CommandTypeAccrueRevenue
	CommandTypeVaultAdjustment
	CommandTypeLendingFlow
)

var typeNames = map[CommandType]string{
	CommandTypeStake:           "Stake",
	CommandTypeRequestUnstake:  "RequestUnstake",
	CommandTypeCancelUnstake:   "CancelUnstake",
	CommandTypeUnstake:         "Unstake",
	CommandTypeSettleRevenue:   "SettleRevenue",
	CommandTypeResolveDeficit:  "ResolveDeficit",
	CommandTypeInitPool:        "InitPool",
	CommandTypeUpdatePool:      "UpdatePool",
	CommandTypeInitMarket:      "InitMarket",
	CommandTypeUpdateMarket:    "UpdateMarket",
	CommandTypeAccrueRevenue:   "AccrueRevenue",
	CommandTypeVaultAdjustment: "VaultAdjustment",
	CommandTypeLendingFlow:     "LendingFlow",
}

func (ct CommandType) String() string {
	if name, ok := typeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// Types returns every known command type in declaration order.
func Types() []CommandType {
	types := make([]CommandType, 0, len(typeNames))
	for ct := CommandTypeStake; ct <= CommandTypeLendingFlow; ct++ {
		types = append(types, ct)
	}
	return types
}

// ParseType maps a command name (as used in subjects and routes) to its type.
func ParseType(name string) (CommandType, error) {
	for ct, n := range typeNames {
		if n == name {
			return ct, nil
		}
	}
	return CommandTypeUnknown, fmt.Errorf("unknown command type %q: %w", name, ErrInvalidCommand)
}

// Command is the interface all inbound commands implement
type Command interface {
	// CommandType returns the discriminator
	CommandType() CommandType

	// IdempotencyKey returns the caller-assigned unique key
	IdempotencyKey() string

	// Pool returns the fund pool the command targets
	Pool() uint16

	// Time returns the caller-supplied logical timestamp (unix seconds).
	// The engine never reads the wall clock.
	Time() int64

	// Validate checks the command is well-formed
	Validate() error
}

// Header is embedded in every command
type Header struct {
	CommandID uuid.UUID `json:"command_id"`
	PoolID    uint16    `json:"pool_id"`
	Ts        int64     `json:"ts"`
}

func (h Header) IdempotencyKey() string { return h.CommandID.String() }
func (h Header) Pool() uint16           { return h.PoolID }
func (h Header) Time() int64            { return h.Ts }

func (h Header) validate() error {
	if h.CommandID == uuid.Nil {
		return fmt.Errorf("missing command_id: %w", ErrInvalidCommand)
	}
	if h.Ts <= 0 {
		return fmt.Errorf("ts must be positive: %w", ErrInvalidCommand)
	}
	return nil
}

// Decode unmarshals a JSON payload into the concrete command for ct and
// validates it.
func Decode(ct CommandType, data []byte) (Command, error) {
	var cmd Command
	switch ct {
	case CommandTypeStake:
		cmd = &Stake{}
	case CommandTypeRequestUnstake:
		cmd = &RequestUnstake{}
	case CommandTypeCancelUnstake:
		cmd = &CancelUnstake{}
	case CommandTypeUnstake:
		cmd = &Unstake{}
	case CommandTypeSettleRevenue:
		cmd = &SettleRevenue{}
	case CommandTypeResolveDeficit:
		cmd = &ResolveDeficit{}
	case CommandTypeInitPool:
		cmd = &InitPool{}
	case CommandTypeUpdatePool:
		cmd = &UpdatePool{}
	case CommandTypeInitMarket:
		cmd = &InitMarket{}
	case CommandTypeUpdateMarket:
		cmd = &UpdateMarket{}
	case CommandTypeAccrueRevenue:
		cmd = &AccrueRevenue{}
	case CommandTypeVaultAdjustment:
		cmd = &VaultAdjustment{}
	case CommandTypeLendingFlow:
		cmd = &LendingFlow{}
	default:
		return nil, fmt.Errorf("decode command type %d: %w", ct, ErrInvalidCommand)
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}
