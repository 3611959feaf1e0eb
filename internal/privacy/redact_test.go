package privacy

import (
	"testing"
)

func TestCompile_Valid(t *testing.T) {
	patterns, err := Compile([]string{`(?i)token`, `\bsecret\b`})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(patterns) != 2 {
		t.Errorf("got %d patterns, want 2", len(patterns))
	}
}

func TestCompile_Invalid(t *testing.T) {
	if _, err := Compile([]string{`[invalid`}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNew_InvalidExtra(t *testing.T) {
	if _, err := New([]string{`(unclosed`}); err == nil {
		t.Fatal("expected error for invalid extra pattern")
	}
}

func TestRedactor_Defaults(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "DM me at trader@example.com for signals", "DM me at [REDACTED] for signals"},
		{"phone", "Call +1 (555) 123-4567 now", "Call [REDACTED] now"},
		{"api key", "key xai-abcdefghijklmnop1234 leaked", "key [REDACTED] leaked"},
		{"prices untouched", "BTC at 97,500 and ETH at 3.2k", "BTC at 97,500 and ETH at 3.2k"},
		{"plain", "Fed holds rates", "Fed holds rates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Apply(tt.in); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactor_Extra(t *testing.T) {
	r, err := New([]string{`(?i)insider`})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := r.Apply("Insider says merger is coming")
	if got != "[REDACTED] says merger is coming" {
		t.Errorf("got %q", got)
	}
}

func TestRedactor_Nil(t *testing.T) {
	var r *Redactor
	if got := r.Apply("unchanged"); got != "unchanged" {
		t.Errorf("got %q", got)
	}
}

func TestRedactor_DatesUntouched(t *testing.T) {
	r, _ := New(nil)
	in := "CPI release on 2025-03-12 at 08:30"
	if got := r.Apply(in); got != in {
		t.Errorf("got %q, want unchanged", got)
	}
}
