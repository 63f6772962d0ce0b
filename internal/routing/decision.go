package routing

// Decision is the provider-agnostic output of the router.
//
// It must contain *only* what dispatch needs to pick a sender pool.
// No provider identity and no provider-specific fields belong here.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Purpose Purpose `json:"purpose,omitempty"`

	// Reason is set when Allowed is false and is intended for logs and job counters.
	Reason string `json:"reason,omitempty"`
}

// Purpose selects which sender identity pool a send uses.
type Purpose string

const (
	PurposeSMSOutreach         Purpose = "SMS_OUTREACH"
	PurposeLandlineColdCalling Purpose = "LANDLINE_COLD_CALLING"
	PurposeWarmCalling         Purpose = "WARM_CALLING"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeSMSOutreach, PurposeLandlineColdCalling, PurposeWarmCalling:
		return true
	default:
		return false
	}
}

const (
	ReasonInvalidPhone    = "invalid_phone"
	ReasonUnknownType     = "unknown_phone_type"
	ReasonLandlineNoSMS   = "landline_cannot_receive_sms"
	ReasonConsentRequired = "consent_required"
	ReasonUnknownChannel  = "unknown_channel"
)

func allow(p Purpose) Decision { return Decision{Allowed: true, Purpose: p} }

func block(reason string) Decision { return Decision{Reason: reason} }
