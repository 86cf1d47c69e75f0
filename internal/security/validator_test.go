package security

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateContentAcceptsPlainText(t *testing.T) {
	if err := ValidateContent("preciso de ajuda com minha vaga", DefaultLimits()); err != nil {
		t.Fatalf("expected plain text to pass, got %v", err)
	}
}

func TestValidateContentRejectsEmpty(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t"} {
		err := ValidateContent(content, DefaultLimits())
		if err == nil {
			t.Fatalf("expected rejection for %q", content)
		}
		if err.Kind != ViolationEmpty {
			t.Fatalf("expected empty violation, got %s", err.Kind)
		}
	}
}

func TestValidateContentRejectsTooLong(t *testing.T) {
	err := ValidateContent(strings.Repeat("a", 2001), DefaultLimits())
	if err == nil || err.Kind != ViolationTooLong {
		t.Fatalf("expected too-long violation, got %v", err)
	}
}

func TestValidateContentRejectsDangerousMarkup(t *testing.T) {
	cases := []string{
		"<script>alert(1)</script>",
		"< SCRIPT src=x>",
		"<img src=x onerror=alert(1)>",
		"clique em javascript:alert(1)",
		"<iframe src=\"https://evil.example\">",
		"<a href=\"data:text/html,foo\">x</a>",
	}
	for _, content := range cases {
		err := ValidateContent(content, DefaultLimits())
		if err == nil {
			t.Fatalf("expected rejection for %q", content)
		}
		if err.Kind != ViolationDangerous {
			t.Fatalf("expected dangerous violation for %q, got %s", content, err.Kind)
		}
	}
}

func TestSanitizeEscapesMarkup(t *testing.T) {
	got := Sanitize("<b>oi</b>")
	if strings.Contains(got, "<") || strings.Contains(got, ">") {
		t.Fatalf("expected escaped output, got %q", got)
	}
}

func TestSanitizeIsNotDoubleApplied(t *testing.T) {
	once := Sanitize("a < b")
	if once != "a &lt; b" {
		t.Fatalf("unexpected sanitized value %q", once)
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID(uuid.NewString()); err != nil {
		t.Fatalf("expected UUID to pass, got %v", err)
	}
	for _, id := range []string{"", "abc", "not-a-uuid", strings.Repeat("0", 36)} {
		if err := ValidateSessionID(id); err == nil {
			t.Fatalf("expected rejection for %q", id)
		}
	}
}

func TestValidateRating(t *testing.T) {
	for rating := 1; rating <= 5; rating++ {
		if err := ValidateRating(rating); err != nil {
			t.Fatalf("expected rating %d to pass, got %v", rating, err)
		}
	}
	for _, rating := range []int{0, -1, 6, 100} {
		if err := ValidateRating(rating); err == nil {
			t.Fatalf("expected rejection for rating %d", rating)
		}
	}
}

func TestValidateContextRejectsDeepNesting(t *testing.T) {
	payload := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": map[string]any{"f": 1}}}}}}
	err := ValidateContext(payload, DefaultLimits())
	if err == nil || err.Kind != ViolationTooDeep {
		t.Fatalf("expected depth violation, got %v", err)
	}
}

func TestValidateContextRejectsBadKeys(t *testing.T) {
	payload := map[string]any{"bad key!": "value"}
	err := ValidateContext(payload, DefaultLimits())
	if err == nil || err.Kind != ViolationBadKey {
		t.Fatalf("expected key violation, got %v", err)
	}
}

func TestValidateContextRejectsOversizedPayload(t *testing.T) {
	payload := map[string]any{"page": strings.Repeat("x", 11*1024)}
	err := ValidateContext(payload, DefaultLimits())
	if err == nil || err.Kind != ViolationPayloadTooBig {
		t.Fatalf("expected size violation, got %v", err)
	}
}

func TestValidateContextAcceptsTypicalWidgetContext(t *testing.T) {
	payload := map[string]any{
		"page":     "/vagas/123",
		"referrer": "https://www.google.com",
		"locale":   "pt-BR",
		"viewport": map[string]any{"width": 390, "height": 844},
	}
	if err := ValidateContext(payload, DefaultLimits()); err != nil {
		t.Fatalf("expected context to pass, got %v", err)
	}
}
