package phoneintel

import "time"

type PhoneType string

const (
	PhoneMobile   PhoneType = "mobile"
	PhoneLandline PhoneType = "landline"
	PhoneUnknown  PhoneType = "unknown"
)

// Lookup is one provider answer for one phone.
type Lookup struct {
	Phone     string    `json:"phone"`
	IsValid   bool      `json:"is_valid"`
	PhoneType PhoneType `json:"phone_type"`
	Carrier   string    `json:"carrier,omitempty"`
	Country   string    `json:"country,omitempty"`
}

// Entry is a persisted cache row keyed by E.164 phone.
type Entry struct {
	Lookup
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Result is what Classify returns for each input, in input order.
// Input holds the caller's raw value; Phone is the normalized E.164 form when parseable.
type Result struct {
	Input string `json:"input"`
	Lookup
	FromCache bool `json:"from_cache"`
}

func unknown(input, phone string) Result {
	return Result{Input: input, Lookup: Lookup{Phone: phone, PhoneType: PhoneUnknown}}
}
