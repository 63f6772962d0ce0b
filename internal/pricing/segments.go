package pricing

import "strings"

const (
	gsmBasic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	// gsmExtended characters cost two septets.
	gsmExtended = "^{}\\[~]|€\f"
)

// Segments returns how many SMS segments body is billed as.
//
// GSM-7 bodies fit 160 septets in one segment and 153 per segment when split;
// anything else is UCS-2 at 70 and 67 characters. An empty body is one segment.
func Segments(body string) int {
	septets, gsm := 0, true
	for _, r := range body {
		switch {
		case strings.ContainsRune(gsmBasic, r):
			septets++
		case strings.ContainsRune(gsmExtended, r):
			septets += 2
		default:
			gsm = false
		}
		if !gsm {
			break
		}
	}

	if gsm {
		return split(septets, 160, 153)
	}
	// UCS-2 counts UTF-16 code units.
	units := 0
	for _, r := range body {
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
	}
	return split(units, 70, 67)
}

func split(n, single, multi int) int {
	if n <= single {
		return 1
	}
	return (n + multi - 1) / multi
}
