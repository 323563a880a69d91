package speech

import (
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "All services online.", want: "All services online."},
		{name: "bold and heading", in: "# Status\n**All** services *online*.", want: "Status. All services online."},
		{name: "code", in: "Run `docker ps` now.", want: "Run docker ps now."},
		{name: "fence", in: "```\nuptime\n```", want: "uptime."},
		{name: "paragraphs", in: "First line.\n\nSecond line.", want: "First line. Second line."},
		{name: "list", in: "Checks:\n- disk ok\n- memory ok", want: "Checks: - disk ok. - memory ok"},
		{name: "question then break", in: "Ready?\nYes.", want: "Ready? Yes."},
		{name: "collapse spaces", in: "a   b\t c", want: "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	short := "All services online."
	if got, cut := Truncate(short, 150, "Full response sent separately."); cut || got != short {
		t.Errorf("short text changed: %q, %v", got, cut)
	}

	long := strings.Repeat("word ", 200)
	got, cut := Truncate(long, 150, "Full response sent separately.")
	if !cut {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(got, "word. Full response sent separately.") {
		t.Errorf("suffix = %q", got[len(got)-40:])
	}
	if n := len(strings.Fields(got)); n != 150+4 {
		t.Errorf("word count = %d, want 154", n)
	}

	if got, cut := Truncate(long, 0, "x"); cut || got != long {
		t.Error("maxWords 0 must disable truncation")
	}
}
