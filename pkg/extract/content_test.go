package extract

import (
	"testing"

	"github.com/mailspend/mailspend/pkg/api"
)

func msgWithPayload(p *api.MessagePart) *api.RawMessage {
	return &api.RawMessage{ID: "m1", Payload: p}
}

func TestPlainText_PrefersPlainOverHTML(t *testing.T) {
	msg := msgWithPayload(&api.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*api.MessagePart{
			{MimeType: "text/html", Body: "<p>Total: <b>₹100</b></p>"},
			{MimeType: "text/plain", Body: "Total: ₹100"},
		},
	})

	if got := PlainText(msg); got != "Total: ₹100" {
		t.Errorf("got %q, want plain part", got)
	}
}

func TestPlainText_ConcatenatesMultiplePlainParts(t *testing.T) {
	msg := msgWithPayload(&api.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*api.MessagePart{
			{MimeType: "text/plain", Body: "Item: Coffee"},
			{MimeType: "multipart/alternative", Parts: []*api.MessagePart{
				{MimeType: "text/plain", Body: "Total: ₹250"},
			}},
		},
	})

	want := "Item: Coffee\nTotal: ₹250"
	if got := PlainText(msg); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPlainText_HTMLFallbackStripsTags(t *testing.T) {
	msg := msgWithPayload(&api.MessagePart{
		MimeType: "text/html",
		Body:     "<html><body><p>Your receipt</p><p>Total: &#8377;1,250.50</p><div>Thanks &amp; regards</div></body></html>",
	})

	want := "Your receipt\nTotal: ₹1,250.50\nThanks & regards"
	if got := PlainText(msg); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPlainText_HTMLWhitespaceCollapsed(t *testing.T) {
	msg := msgWithPayload(&api.MessagePart{
		MimeType: "text/html",
		Body:     "<p>Total:     ₹99</p>\n\n\n<p>   Visit   again </p>",
	})

	want := "Total: ₹99\nVisit again"
	if got := PlainText(msg); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPlainText_EmptyOutcomes(t *testing.T) {
	tests := []struct {
		name string
		msg  *api.RawMessage
	}{
		{"nil message", nil},
		{"nil payload", &api.RawMessage{ID: "m1"}},
		{"no text parts", msgWithPayload(&api.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*api.MessagePart{
				{MimeType: "application/pdf", Body: "binary"},
			},
		})},
		{"empty bodies", msgWithPayload(&api.MessagePart{
			MimeType: "text/plain",
			Body:     "",
		})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PlainText(tc.msg); got != "" {
				t.Errorf("got %q, want empty string", got)
			}
		})
	}
}

func TestPlainText_DeepNestedHTML(t *testing.T) {
	msg := msgWithPayload(&api.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*api.MessagePart{
			{MimeType: "multipart/related", Parts: []*api.MessagePart{
				{MimeType: "text/html", Body: "<p>Amount: $20</p>"},
			}},
		},
	})

	if got := PlainText(msg); got != "Amount: $20" {
		t.Errorf("got %q", got)
	}
}
