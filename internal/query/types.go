package query

import "github.com/google/uuid"

// PoolSummary is the public view of a fund pool. Share counts are in the
// pool's current base and rendered as base-10 strings.
type PoolSummary struct {
	PoolID                   uint16 `json:"pool_id"`
	Asset                    string `json:"asset"`
	Decimals                 uint32 `json:"decimals"`
	TotalShares              string `json:"total_shares"`
	DepositorShares          string `json:"depositor_shares"`
	ProtocolShares           string `json:"protocol_shares"`
	ShareBase                uint64 `json:"share_base"`
	InsuranceVault           uint64 `json:"insurance_vault"`
	SpotVault                uint64 `json:"spot_vault"`
	RevenuePool              string `json:"revenue_pool"`
	WithdrawEscrowPeriod     int64  `json:"withdraw_escrow_period"`
	RevenueSettlePeriod      int64  `json:"revenue_settle_period"`
	LastRevenueSettleTs      int64  `json:"last_revenue_settle_ts"`
	NextRevenueSettleTs      int64  `json:"next_revenue_settle_ts"`
	DepositorRevenueShareBps uint32 `json:"depositor_revenue_share_bps"`
	TotalRevenueShareBps     uint32 `json:"total_revenue_share_bps"`
	AsOfSequence             int64  `json:"as_of_sequence"`
}

// StakeView is one owner's position, normalized to the pool's current
// share base and valued against the insurance vault.
type StakeView struct {
	Owner                    uuid.UUID `json:"owner"`
	PoolID                   uint16    `json:"pool_id"`
	Shares                   string    `json:"shares"`
	PendingWithdrawShares    string    `json:"pending_withdraw_shares"`
	ShareBase                uint64    `json:"share_base"`
	CurrentValue             uint64    `json:"current_value"`
	CostBasis                int64     `json:"cost_basis"`
	PendingWithdrawValue     uint64    `json:"pending_withdraw_value"`
	PendingWithdrawRequestTs int64     `json:"pending_withdraw_request_ts"`
	WithdrawableAt           int64     `json:"withdrawable_at,omitempty"` // set while a request is pending
	AsOfSequence             int64     `json:"as_of_sequence"`
}

// MarketView is a market's deficit state and remaining draw allowances.
type MarketView struct {
	MarketID                    uint16 `json:"market_id"`
	PoolID                      uint16 `json:"pool_id"`
	TotalFeeMinusDistributions  string `json:"total_fee_minus_distributions"`
	NetUnsettledPnl             string `json:"net_unsettled_pnl"`
	PnlPool                     string `json:"pnl_pool"`
	InDeficit                   bool   `json:"in_deficit"`
	UnrealizedMaxImbalance      uint64 `json:"unrealized_max_imbalance"`
	MaxRevenueWithdrawPerPeriod uint64 `json:"max_revenue_withdraw_per_period"`
	RevenueWithdrawnThisPeriod  uint64 `json:"revenue_withdrawn_this_period"`
	RemainingPeriodAllowance    uint64 `json:"remaining_period_allowance"`
	LifetimeInsuranceCap        uint64 `json:"lifetime_insurance_cap"`
	LifetimeInsuranceDrawn      uint64 `json:"lifetime_insurance_drawn"`
	RemainingLifetimeAllowance  uint64 `json:"remaining_lifetime_allowance"`
	LastRevenueWithdrawTs       int64  `json:"last_revenue_withdraw_ts"`
	AsOfSequence                int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	PoolID        uint16 `json:"pool_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// AccountBalance is a projected account balance.
type AccountBalance struct {
	AccountPath  string `json:"account_path"`
	PoolID       uint16 `json:"pool_id"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool             `json:"is_healthy"`
	HashChainBreaks []int64          `json:"hash_chain_breaks,omitempty"`
	UnbalancedPools []UnbalancedPool `json:"unbalanced_pools,omitempty"`
}

// UnbalancedPool is a pool whose projected balances do not sum to zero.
type UnbalancedPool struct {
	PoolID    uint16 `json:"pool_id"`
	Imbalance int64  `json:"imbalance"`
}
