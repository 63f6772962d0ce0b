package telephony

import (
	"strings"
	"testing"
)

func TestRenderSay(t *testing.T) {
	xml, err := RenderSay("Hello from Acme.\n\nReply STOP to opt out.")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{"<Say>Hello from Acme.</Say>", "<Pause length=\"1\"></Pause>", "<Hangup></Hangup>"} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderSayEscapes(t *testing.T) {
	xml, err := RenderSay("Tom & Jerry <3")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "Tom &amp; Jerry &lt;3") {
		t.Fatalf("expected escaped script: %s", xml)
	}
}

func TestRenderSayRequiresScript(t *testing.T) {
	if _, err := RenderSay("  "); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderMessageReply(t *testing.T) {
	xml, err := RenderMessageReply("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if strings.Contains(xml, "<Message") {
		t.Fatalf("expected empty response: %s", xml)
	}
	xml, err = RenderMessageReply("You are unsubscribed.")
	if err != nil || !strings.Contains(xml, "<Message>You are unsubscribed.</Message>") {
		t.Fatalf("unexpected reply: %s %v", xml, err)
	}
}
