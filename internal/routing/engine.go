package routing

import (
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/phoneintel"
)

// RouteInput describes one prospective send.
type RouteInput struct {
	Channel   campaigns.Channel
	PhoneType phoneintel.PhoneType
	IsValid   bool
	// HasConsent is true when the contact has a recorded CONSENT event.
	HasConsent bool
}

// Route maps a destination to the sender pool allowed to reach it.
//
// Rules:
//  1. invalid or unclassified phones are never contacted
//  2. SMS goes to mobiles only, from the SMS_OUTREACH pool
//  3. voice to landlines uses LANDLINE_COLD_CALLING
//  4. voice to mobiles requires consent and uses WARM_CALLING
//
// Route has no side effects (no DB writes, no provider calls).
func Route(in RouteInput) Decision {
	if !in.IsValid {
		return block(ReasonInvalidPhone)
	}
	switch in.PhoneType {
	case phoneintel.PhoneMobile, phoneintel.PhoneLandline:
	default:
		return block(ReasonUnknownType)
	}

	switch in.Channel {
	case campaigns.ChannelSMS:
		if in.PhoneType != phoneintel.PhoneMobile {
			return block(ReasonLandlineNoSMS)
		}
		return allow(PurposeSMSOutreach)
	case campaigns.ChannelVoice:
		if in.PhoneType == phoneintel.PhoneLandline {
			return allow(PurposeLandlineColdCalling)
		}
		if !in.HasConsent {
			return block(ReasonConsentRequired)
		}
		return allow(PurposeWarmCalling)
	default:
		return block(ReasonUnknownChannel)
	}
}
