package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlMessage struct {
	XMLName xml.Name `xml:"Message"`
	Text    string   `xml:",chardata"`
}

// RenderSay reads script to the callee and hangs up. Blank lines in the script
// become one-second pauses.
func RenderSay(script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", errors.New("telephony: script required")
	}
	var r twimlResponse
	for _, para := range strings.Split(script, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(r.Verbs) > 0 {
			r.Verbs = append(r.Verbs, twimlPause{Length: 1})
		}
		r.Verbs = append(r.Verbs, twimlSay{Text: para})
	}
	r.Verbs = append(r.Verbs, twimlHangup{})
	return render(r)
}

// RenderMessageReply answers an inbound SMS. An empty reply sends nothing back.
func RenderMessageReply(reply string) (string, error) {
	var r twimlResponse
	if strings.TrimSpace(reply) != "" {
		r.Verbs = append(r.Verbs, twimlMessage{Text: reply})
	}
	return render(r)
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
