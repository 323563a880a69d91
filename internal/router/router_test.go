package router

import (
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestTable_LongestMatchWins(t *testing.T) {
	tbl, err := NewTable([]Trigger{
		{Phrase: "system", Agent: "ops"},
		{Phrase: "system status", Agent: "system-guardian"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	d, ok := tbl.Match("Please check System Status now")
	if !ok || d.AgentID != "system-guardian" || d.Trigger != "system status" {
		t.Fatalf("got %+v, %v", d, ok)
	}
	if d.Query != "Please check System Status now" {
		t.Errorf("Query = %q", d.Query)
	}
}

func TestTable_TieGoesToEarlierEntry(t *testing.T) {
	tbl, _ := NewTable([]Trigger{
		{Phrase: "leads", Agent: "outreach-agent"},
		{Phrase: "deals", Agent: "deal-scanner"},
	})
	d, ok := tbl.Match("any new deals or leads?")
	if !ok || d.AgentID != "outreach-agent" {
		t.Fatalf("got %+v", d)
	}
}

func TestTable_NoMatchIsLocal(t *testing.T) {
	tbl, _ := NewTable(DefaultTriggers)
	d, ok := tbl.Match("tell me a joke")
	if ok || d.Kind != KindLocal {
		t.Fatalf("got %+v, %v", d, ok)
	}
}

func TestTable_DefaultCheckSystemStatus(t *testing.T) {
	tbl, err := NewTable(DefaultTriggers)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	d, ok := tbl.Match("check system status")
	if !ok || d != (Decision{Kind: KindSpecialist, AgentID: "system-guardian", Query: "check system status", Trigger: "system status"}) {
		t.Fatalf("got %+v", d)
	}
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable([]Trigger{{Phrase: "", Agent: "a"}, {Phrase: "x", Agent: " "}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "trigger 0") || !strings.Contains(err.Error(), "trigger 1") {
		t.Errorf("error should mention both entries: %v", err)
	}
}

// The winning trigger is always the longest matching phrase, and among equal
// lengths the first in table order.
func TestTable_LongestMatchProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		triggers := make([]Trigger, n)
		for i := range triggers {
			triggers[i] = Trigger{
				Phrase: rapid.StringMatching(`[a-c]{1,4}( [a-c]{1,3})?`).Draw(rt, "phrase"),
				Agent:  rapid.StringMatching(`agent-[0-9]`).Draw(rt, "agent"),
			}
		}
		text := rapid.StringMatching(`[a-c ]{0,30}`).Draw(rt, "text")

		tbl, err := NewTable(triggers)
		if err != nil {
			rt.Fatalf("NewTable: %v", err)
		}
		d, ok := tbl.Match(text)

		norm := strings.Join(strings.Fields(text), " ")
		want := -1
		for i, tr := range triggers {
			if strings.Contains(norm, tr.Phrase) && (want < 0 || len(tr.Phrase) > len(triggers[want].Phrase)) {
				want = i
			}
		}
		if want < 0 {
			if ok {
				rt.Fatalf("matched %+v, want no match", d)
			}
			return
		}
		if !ok || d.AgentID != triggers[want].Agent || d.Trigger != triggers[want].Phrase {
			rt.Fatalf("got %+v, want trigger %+v", d, triggers[want])
		}
	})
}

func TestParseRouteLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Decision
		wantErr error
	}{
		{line: "[ROUTE:deal-scanner] find dental practices under 500000", want: Specialist("deal-scanner", "find dental practices under 500000")},
		{line: "  [ROUTE:system-guardian]   check disks ", want: Specialist("system-guardian", "check disks")},
		{line: "[ROUTE:content-studio]", want: Specialist("content-studio", "")},
		{line: "Sure, here is the answer.", want: Local()},
		{line: "", want: Local()},
		{line: "[ROUTE:bad id] x", want: Local(), wantErr: ErrMalformedRouteTag},
		{line: "[ROUTE:deal-scanner find deals", want: Local(), wantErr: ErrMalformedRouteTag},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseRouteLine(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func feedAll(d *Detector, deltas ...string) Verdict {
	v := Undecided
	for _, s := range deltas {
		if v = d.Feed(s); v != Undecided {
			return v
		}
	}
	return d.Finish()
}

func TestDetector_RouteOnFirstLine(t *testing.T) {
	d := NewDetector(0)
	v := feedAll(d, "[ROU", "TE:deal-scanner] find dental", " practices under 500000\n", "more text")
	if v != VerdictRoute {
		t.Fatalf("verdict = %v, want route", v)
	}
	if got := d.Decision(); got != Specialist("deal-scanner", "find dental practices under 500000") {
		t.Errorf("decision = %+v", got)
	}
	if strings.Contains(d.Buffered(), "more text") {
		t.Error("detector consumed text after the verdict")
	}
}

func TestDetector_PlainTextDecidesEarly(t *testing.T) {
	d := NewDetector(50)
	if v := d.Feed("Hello"); v != VerdictLocal {
		t.Fatalf("verdict = %v, want local on first non-tag character", v)
	}
}

func TestDetector_WaitsWhileAmbiguous(t *testing.T) {
	d := NewDetector(50)
	if v := d.Feed("  [RO"); v != Undecided {
		t.Fatalf("verdict = %v, want undecided", v)
	}
	if v := d.Feed("UTE:x"); v != Undecided {
		t.Fatalf("verdict = %v, want undecided", v)
	}
}

func TestDetector_TokenByToken(t *testing.T) {
	const reply = "[ROUTE:deal-scanner] find dental practices under 500000\nmore text"
	d := NewDetector(0)
	v := Undecided
	for _, r := range reply {
		if v = d.Feed(string(r)); v != Undecided {
			break
		}
	}
	if v != VerdictRoute {
		t.Fatalf("verdict = %v, want route", v)
	}
	if got := d.Decision(); got != Specialist("deal-scanner", "find dental practices under 500000") {
		t.Errorf("decision = %+v", got)
	}
	if strings.Contains(d.Buffered(), "more") {
		t.Errorf("buffered past the first line: %q", d.Buffered())
	}
}

func TestDetector_TaggedLineOutlivesWindow(t *testing.T) {
	d := NewDetector(20)
	v := feedAll(d, "[ROUTE:x] ", "summarise ", "every listing ", "in the pipeline ", "this week")
	if v != VerdictRoute {
		t.Fatalf("verdict = %v, want route", v)
	}
	if got := d.Decision().Query; got != "summarise every listing in the pipeline this week" {
		t.Errorf("query = %q", got)
	}
}

func TestDetector_TagMustCloseWithinWindow(t *testing.T) {
	d := NewDetector(20)
	v := feedAll(d, "[ROUTE:system-guardian] check every server in the rack")
	if v != VerdictLocal {
		t.Fatalf("verdict = %v, want local", v)
	}
	if !errors.Is(d.Err(), ErrMalformedRouteTag) {
		t.Errorf("err = %v", d.Err())
	}
}

func TestDetector_ChunkingInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reply := rapid.SampledFrom([]string{
			"[ROUTE:deal-scanner] find dental practices under 500000\nmore text",
			"[ROUTE:system-guardian] check disk usage on every node in the cluster please",
			"[route:content-studio]\nwrite the post",
			"[ROUTE:what is this\nanswer",
			"[ROUTE:a-very-long-agent-identifier-that-never-closes-in-time] hi",
			"  The market is calm today. Nothing to report.",
		}).Draw(rt, "reply")
		window := rapid.IntRange(10, 80).Draw(rt, "window")

		whole := NewDetector(window)
		wantV := feedAll(whole, reply)

		var deltas []string
		for rest := reply; rest != ""; {
			n := rapid.IntRange(1, 6).Draw(rt, "n")
			n = min(n, len(rest))
			deltas = append(deltas, rest[:n])
			rest = rest[n:]
		}
		chunked := NewDetector(window)
		if v := feedAll(chunked, deltas...); v != wantV || chunked.Decision() != whole.Decision() {
			rt.Fatalf("chunked %q: verdict %v %+v, whole: %v %+v",
				deltas, v, chunked.Decision(), wantV, whole.Decision())
		}
	})
}

func TestDetector_MalformedFailsOpen(t *testing.T) {
	d := NewDetector(50)
	v := feedAll(d, "[ROUTE:what is this\nanswer")
	if v != VerdictLocal {
		t.Fatalf("verdict = %v, want local", v)
	}
	if !errors.Is(d.Err(), ErrMalformedRouteTag) {
		t.Errorf("err = %v", d.Err())
	}
}

func TestDetector_TagAfterFirstLineIgnored(t *testing.T) {
	d := NewDetector(50)
	v := feedAll(d, "Let me think.\n[ROUTE:deal-scanner] deals")
	if v != VerdictLocal {
		t.Fatalf("verdict = %v, want local", v)
	}
}

func TestDetector_ShortStreamFinish(t *testing.T) {
	d := NewDetector(50)
	if v := feedAll(d, "[ROUTE:x] y"); v != VerdictRoute {
		t.Fatalf("verdict = %v, want route from Finish", v)
	}
}

func TestMetaMatcher(t *testing.T) {
	m := NewMetaMatcher(MetaPhrases{})
	tests := []struct {
		text string
		want Command
	}{
		{"New conversation.", CommandClear},
		{"ok let's start over", CommandClear},
		{"Scratch that!", CommandForget},
		{"never mind", CommandForget},
		{"What did I just ask?", CommandRepeatUser},
		{"what did I say", CommandRepeatUser},
		{"Say that again, please", CommandRepeatAssistant},
		{"repeat that", CommandRepeatAssistant},
		{"check system status", CommandNone},
		{"restart overnight", CommandNone},
		{"", CommandNone},
	}
	for _, tt := range tests {
		if got := m.Match(tt.text); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMetaMatcher_CustomPhrases(t *testing.T) {
	m := NewMetaMatcher(MetaPhrases{Clear: []string{"fresh start"}})
	if m.Match("new conversation") != CommandNone {
		t.Error("custom clear list must replace the default")
	}
	if m.Match("Fresh start please") != CommandClear {
		t.Error("custom phrase not matched")
	}
	if m.Match("forget that") != CommandForget {
		t.Error("other lists keep their defaults")
	}
}

func TestDirectory(t *testing.T) {
	d := DefaultAgents.Merge(Directory{"ops-bot": "Ops"})
	if got := d.Name("system-guardian"); got != "System Guardian" {
		t.Errorf("Name = %q", got)
	}
	if got := d.Name("ops-bot"); got != "Ops" {
		t.Errorf("Name = %q", got)
	}
	if got := d.Name("night_shift-agent"); got != "Night Shift Agent" {
		t.Errorf("Name = %q", got)
	}
	if id, ok := d.Lookup("system guardian"); !ok || id != "system-guardian" {
		t.Errorf("Lookup = %q, %v", id, ok)
	}
	ids := d.IDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("IDs not sorted: %v", ids)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeConversational {
		t.Errorf("empty: %v %v", m, err)
	}
	if m, err := ParseMode("command"); err != nil || m != ModeCommand {
		t.Errorf("command: %v %v", m, err)
	}
	if _, err := ParseMode("chat"); err == nil {
		t.Error("expected error")
	}
}
