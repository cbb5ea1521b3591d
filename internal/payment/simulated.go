package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SimulatedBankName labels virtual accounts issued without live credentials.
	SimulatedBankName = "Flutterwave Bank"

	cardSettlementETA     = 5 * time.Minute
	transferSettlementETA = time.Hour
)

// SettlementETA is the nominal time until funds on rail are confirmed.
func SettlementETA(rail Rail) time.Duration {
	if rail == RailCard {
		return cardSettlementETA
	}
	return transferSettlementETA
}

func syntheticID(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:n]
}

func eta(now func() time.Time, d time.Duration) *time.Time {
	t := now().Add(d)
	return &t
}

func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return func() time.Time { return time.Now().UTC() }
}

// SimulatedCard approves every charge with a synthetic reference.
type SimulatedCard struct {
	Now func() time.Time
}

func (SimulatedCard) Rail() Rail { return RailCard }

// Process approves the charge.
func (s SimulatedCard) Process(_ context.Context, _ Charge) (Result, error) {
	return Result{
		Success:             true,
		ExternalReference:   "SIM_CARD_" + syntheticID(16),
		EstimatedDeliveryAt: eta(clock(s.Now), cardSettlementETA),
	}, nil
}

func (SimulatedCard) CreateDepositDestination(context.Context, DepositRequest) (Result, error) {
	return Result{}, ErrUnsupportedOperation
}

// SimulatedInterac registers the expected e-transfer and leaves it pending.
type SimulatedInterac struct {
	Now func() time.Time
}

func (SimulatedInterac) Rail() Rail { return RailInterac }

func (s SimulatedInterac) Process(_ context.Context, _ Charge) (Result, error) {
	return Result{
		Pending:             true,
		ExternalReference:   "INTERAC_" + syntheticID(16),
		EstimatedDeliveryAt: eta(clock(s.Now), transferSettlementETA),
	}, nil
}

func (SimulatedInterac) CreateDepositDestination(context.Context, DepositRequest) (Result, error) {
	return Result{}, ErrUnsupportedOperation
}

// SimulatedVirtualAccount issues synthetic NGN deposit accounts.
type SimulatedVirtualAccount struct {
	Now func() time.Time
}

func (SimulatedVirtualAccount) Rail() Rail { return RailVirtualAccount }

// Process acknowledges the expected transfer; funds arrive by webhook.
func (s SimulatedVirtualAccount) Process(_ context.Context, _ Charge) (Result, error) {
	return Result{Pending: true, EstimatedDeliveryAt: eta(clock(s.Now), transferSettlementETA)}, nil
}

// CreateDepositDestination issues an account number of the form VA{yyyyMMdd}{8 hex}.
func (s SimulatedVirtualAccount) CreateDepositDestination(_ context.Context, _ DepositRequest) (Result, error) {
	now := clock(s.Now)
	return Result{
		Pending: true,
		DepositAccount: &DepositAccount{
			AccountNumber: "VA" + now().Format("20060102") + syntheticID(8),
			BankName:      SimulatedBankName,
		},
		EstimatedDeliveryAt: eta(now, transferSettlementETA),
	}, nil
}
