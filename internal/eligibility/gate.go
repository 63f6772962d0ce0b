package eligibility

import (
	"context"
	"errors"
	"fmt"

	"outreach-platform/internal/accounts"
	"outreach-platform/internal/wallet"
)

// Code identifies which check denied a send.
type Code string

const (
	CodeAllowed              Code = ""
	CodeOrganizationNotFound Code = "organization_not_found"
	CodeNoSubscription       Code = "no_subscription"
	CodeSubscriptionInactive Code = "subscription_inactive"
	CodeWalletFrozen         Code = "wallet_frozen"
	CodeInsufficientBalance  Code = "insufficient_balance"
)

// Decision is the outcome of CanSend. Reason is user-facing.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    Code   `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(code Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// BalanceReader is the wallet capability the gate needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, organizationID string) (wallet.Balance, error)
}

// AccountReader is the organization/subscription capability the gate needs.
type AccountReader interface {
	GetOrganization(ctx context.Context, organizationID string) (accounts.Organization, error)
	GetSubscription(ctx context.Context, organizationID string) (accounts.Subscription, error)
}

// Gate decides whether an organization may send right now.
//
// Checks run in a fixed order and the first failure wins, so callers always see
// the most actionable blocker: organization, subscription, subscription status,
// wallet frozen, then balance.
type Gate struct {
	accounts AccountReader
	wallet   BalanceReader
}

func NewGate(accts AccountReader, w BalanceReader) *Gate {
	return &Gate{accounts: accts, wallet: w}
}

// CanSend reports whether organizationID may spend estimatedCostMinor.
// Business denials are returned as a Decision; err is reserved for lookup failures.
func (g *Gate) CanSend(ctx context.Context, organizationID string, estimatedCostMinor int64) (Decision, error) {
	if organizationID == "" || estimatedCostMinor < 0 {
		return Decision{}, wallet.ErrInvalidArgument
	}

	if _, err := g.accounts.GetOrganization(ctx, organizationID); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return deny(CodeOrganizationNotFound, "Organization not found"), nil
		}
		return Decision{}, fmt.Errorf("eligibility: organization lookup: %w", err)
	}

	sub, err := g.accounts.GetSubscription(ctx, organizationID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return deny(CodeNoSubscription, "No active subscription"), nil
		}
		return Decision{}, fmt.Errorf("eligibility: subscription lookup: %w", err)
	}
	if sub.Status != accounts.SubscriptionActive {
		return deny(CodeSubscriptionInactive, fmt.Sprintf("Subscription is %s", sub.Status)), nil
	}

	bal, err := g.wallet.GetBalance(ctx, organizationID)
	if err != nil {
		return Decision{}, fmt.Errorf("eligibility: balance lookup: %w", err)
	}
	if bal.IsFrozen {
		return deny(CodeWalletFrozen, "Wallet is frozen"), nil
	}
	if bal.BalanceMinor < estimatedCostMinor {
		return deny(CodeInsufficientBalance, "Insufficient balance"), nil
	}
	return allow(), nil
}
