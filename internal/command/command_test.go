package command_test

import (
	"encoding/json"
	"errors"
	"testing"

	"IFLedger/internal/command"

	"github.com/google/uuid"
)

const (
	cmdID = "550e8400-e29b-41d4-a716-446655440000"
	owner = "660e8400-e29b-41d4-a716-446655440001"
)

// ============================================================================
// Test: Type names
// ============================================================================

func TestParseType_AllTypesRoundTrip(t *testing.T) {
	types := command.Types()
	if len(types) != 13 {
		t.Fatalf("expected 13 command types, got %d", len(types))
	}
	for _, ct := range types {
		got, err := command.ParseType(ct.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", ct, err)
		}
		if got != ct {
			t.Errorf("ParseType(%q) = %v", ct, got)
		}
	}
}

func TestParseType_Unknown(t *testing.T) {
	if _, err := command.ParseType("TradeFill"); !errors.Is(err, command.ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand, got %v", err)
	}
	if command.CommandTypeUnknown.String() != "Unknown" {
		t.Error("unknown type should print as Unknown")
	}
}

// ============================================================================
// Test: Decode
// ============================================================================

func TestDecode_Stake(t *testing.T) {
	data := []byte(`{"command_id":"` + cmdID + `","pool_id":3,"ts":1700000000,"owner":"` + owner + `","amount":1000000}`)

	cmd, err := command.Decode(command.CommandTypeStake, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s, ok := cmd.(*command.Stake)
	if !ok {
		t.Fatalf("expected *command.Stake, got %T", cmd)
	}
	if s.Owner != uuid.MustParse(owner) || s.Amount != 1_000_000 {
		t.Errorf("stake fields: %+v", s)
	}
	if cmd.IdempotencyKey() != cmdID || cmd.Pool() != 3 || cmd.Time() != 1_700_000_000 {
		t.Errorf("header: key=%s pool=%d ts=%d", cmd.IdempotencyKey(), cmd.Pool(), cmd.Time())
	}
}

func TestDecode_InitPoolFlattensParams(t *testing.T) {
	data := []byte(`{"command_id":"` + cmdID + `","pool_id":1,"ts":10,
		"asset":"USDC","decimals":6,"withdraw_escrow_period":604800,"revenue_settle_period":3600,
		"depositor_revenue_share_bps":5000,"total_revenue_share_bps":10000}`)

	cmd, err := command.Decode(command.CommandTypeInitPool, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := cmd.(*command.InitPool)
	if p.Asset != "USDC" || p.WithdrawEscrowPeriod != 604_800 || p.TotalRevenueShareBps != 10_000 {
		t.Errorf("pool params: %+v", p.PoolParams)
	}
}

func TestDecode_EncodedCommandDecodesBack(t *testing.T) {
	orig := &command.UpdateMarket{
		Header:                     command.Header{CommandID: uuid.MustParse(cmdID), PoolID: 1, Ts: 50},
		MarketID:                   4,
		TotalFeeMinusDistributions: "-1000",
		NetUnsettledPnl:            "2500",
		OraclePrice:                42,
		MarketLimits:               command.MarketLimits{UnrealizedMaxImbalance: 10, LifetimeInsuranceCap: 99},
		PnlPoolPayout:              7,
		ResetPeriod:                true,
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cmd, err := command.Decode(command.CommandTypeUpdateMarket, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := cmd.(*command.UpdateMarket); *got != *orig {
		t.Errorf("got %+v, want %+v", got, orig)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		ct   command.CommandType
		data string
	}{
		{"unknown type", command.CommandTypeUnknown, `{}`},
		{"malformed json", command.CommandTypeStake, `{"command_id":`},
		{"missing command id", command.CommandTypeStake, `{"ts":1,"owner":"` + owner + `","amount":1}`},
		{"zero ts", command.CommandTypeStake, `{"command_id":"` + cmdID + `","owner":"` + owner + `","amount":1}`},
		{"missing owner", command.CommandTypeUnstake, `{"command_id":"` + cmdID + `","ts":1}`},
		{"missing shares", command.CommandTypeRequestUnstake, `{"command_id":"` + cmdID + `","ts":1,"owner":"` + owner + `"}`},
		{"zero shares", command.CommandTypeRequestUnstake, `{"command_id":"` + cmdID + `","ts":1,"owner":"` + owner + `","shares":"0"}`},
		{"non-numeric shares", command.CommandTypeRequestUnstake, `{"command_id":"` + cmdID + `","ts":1,"owner":"` + owner + `","shares":"1e6"}`},
		{"zero revenue", command.CommandTypeAccrueRevenue, `{"command_id":"` + cmdID + `","ts":1,"amount":0}`},
		{"zero delta", command.CommandTypeVaultAdjustment, `{"command_id":"` + cmdID + `","ts":1,"delta":0}`},
		{"bad lending kind", command.CommandTypeLendingFlow, `{"command_id":"` + cmdID + `","ts":1,"kind":"mint","amount":5}`},
		{"missing asset", command.CommandTypeInitPool, `{"command_id":"` + cmdID + `","ts":1}`},
		{"interest fee over 100%", command.CommandTypeUpdatePool, `{"command_id":"` + cmdID + `","ts":1,"asset":"USDC","interest_fee_bps":10001}`},
		{"missing pnl fields", command.CommandTypeUpdateMarket, `{"command_id":"` + cmdID + `","ts":1,"market_id":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := command.Decode(tt.ct, []byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_ValidationErrorsWrapSentinel(t *testing.T) {
	_, err := command.Decode(command.CommandTypeLendingFlow, []byte(`{"command_id":"`+cmdID+`","ts":1,"kind":"repay"}`))
	if !errors.Is(err, command.ErrInvalidCommand) {
		t.Errorf("expected ErrInvalidCommand, got %v", err)
	}
}
