package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// SpendSummaryRequest requests aggregated spend metrics.
// Spend is derived from immutable wallet ledger entries scoped to the organization.
type SpendSummaryRequest struct {
	OrganizationID string    `json:"organization_id"`
	Range          TimeRange `json:"range"`
}

type SpendSummary struct {
	OrganizationID string `json:"organization_id"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	// UsageDebitMinor is spend from dispatched sends.
	UsageDebitMinor int64 `json:"usage_debit_minor"`
	// PaymentCreditMinor is money in from the payment processor.
	PaymentCreditMinor int64 `json:"payment_credit_minor"`
	// AdminAdjustMinor is the signed sum of manual admin entries.
	AdminAdjustMinor int64 `json:"admin_adjust_minor"`
}

// OutreachSummaryRequest requests aggregated outreach metrics from the compliance log.
// CampaignID is optional.
type OutreachSummaryRequest struct {
	OrganizationID string    `json:"organization_id"`
	Range          TimeRange `json:"range"`
	CampaignID     string    `json:"campaign_id,omitempty"`
}

type ChannelStats struct {
	Attempts int `json:"attempts"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	// Contacts is the number of distinct contacts attempted.
	Contacts int `json:"contacts"`
}

type OutreachSummary struct {
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id,omitempty"`

	Messages ChannelStats `json:"messages"`
	Calls    ChannelStats `json:"calls"`

	OptOuts  int `json:"opt_outs"`
	Consents int `json:"consents"`

	// SuccessRate is sent / attempts across both channels.
	SuccessRate float64 `json:"success_rate"`
	// OptOutRate is opt-outs / distinct contacts reached.
	OptOutRate float64 `json:"opt_out_rate"`
}
