package router

import (
	"errors"
	"fmt"
	"strings"
)

// Trigger maps a case-insensitive phrase to an agent.
type Trigger struct {
	Phrase string `yaml:"phrase"`
	Agent  string `yaml:"agent"`
}

// Table is the ordered trigger table used in command mode. It is immutable
// after construction and safe for concurrent use.
type Table struct {
	triggers []Trigger // phrases lower-cased
}

// NewTable validates triggers and builds a table. Order matters: when two
// matching phrases have the same length the earlier one wins.
func NewTable(triggers []Trigger) (*Table, error) {
	var errs []error
	out := make([]Trigger, 0, len(triggers))
	for i, t := range triggers {
		phrase := strings.ToLower(strings.Join(strings.Fields(t.Phrase), " "))
		agent := strings.TrimSpace(t.Agent)
		if phrase == "" {
			errs = append(errs, fmt.Errorf("router: trigger %d: empty phrase", i))
			continue
		}
		if agent == "" {
			errs = append(errs, fmt.Errorf("router: trigger %d (%q): empty agent", i, t.Phrase))
			continue
		}
		out = append(out, Trigger{Phrase: phrase, Agent: agent})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Table{triggers: out}, nil
}

// Match returns the decision for text: the longest matching trigger wins,
// ties go to the earlier entry. The whole transcript becomes the query. No
// match yields a local decision and ok == false.
func (t *Table) Match(text string) (d Decision, ok bool) {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	best := -1
	for i, tr := range t.triggers {
		if !strings.Contains(lower, tr.Phrase) {
			continue
		}
		if best < 0 || len(tr.Phrase) > len(t.triggers[best].Phrase) {
			best = i
		}
	}
	if best < 0 {
		return Local(), false
	}
	d = Specialist(t.triggers[best].Agent, strings.TrimSpace(text))
	d.Trigger = t.triggers[best].Phrase
	return d, true
}

// Triggers returns a copy of the table in order.
func (t *Table) Triggers() []Trigger {
	out := make([]Trigger, len(t.triggers))
	copy(out, t.triggers)
	return out
}

// Agents returns the distinct agent ids in first-appearance order.
func (t *Table) Agents() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tr := range t.triggers {
		if !seen[tr.Agent] {
			seen[tr.Agent] = true
			out = append(out, tr.Agent)
		}
	}
	return out
}

// DefaultTriggers is the trigger table used when the configuration has none.
var DefaultTriggers = []Trigger{
	{"deal", "deal-scanner"}, {"deals", "deal-scanner"}, {"listing", "deal-scanner"},
	{"listings", "deal-scanner"}, {"acquisition", "deal-scanner"},
	{"newsletter", "newsletter-engine"}, {"email blast", "newsletter-engine"},
	{"subscriber", "newsletter-engine"},
	{"review", "reputation-monitor"}, {"reputation", "reputation-monitor"},
	{"rating", "reputation-monitor"},
	{"compliance", "compliance-engine"}, {"regulation", "compliance-engine"},
	{"hipaa", "compliance-engine"}, {"regulatory", "compliance-engine"},
	{"outreach", "outreach-agent"}, {"cold email", "outreach-agent"},
	{"lead", "outreach-agent"}, {"prospect", "outreach-agent"},
	{"deliverable", "overnight-deliverables"}, {"order", "overnight-deliverables"},
	{"content", "content-studio"}, {"blog", "content-studio"}, {"article", "content-studio"},
	{"system status", "system-guardian"}, {"system", "system-guardian"},
	{"server", "system-guardian"}, {"infrastructure", "system-guardian"},
	{"docker", "system-guardian"},
	{"print", "print-designer"}, {"3d model", "print-designer"}, {"printer", "print-designer"},
	{"should i", "argument-simulator"}, {"stress test", "argument-simulator"},
	{"decision", "argument-simulator"},
	{"zombie", "zombie-resurrector"}, {"abandoned", "zombie-resurrector"},
	{"old repo", "zombie-resurrector"},
	{"codebase", "codebase-archaeologist"}, {"due diligence", "codebase-archaeologist"},
	{"template", "template-publisher"}, {"publish", "template-publisher"},
	{"microtool", "microtool-factory"}, {"scaffold", "microtool-factory"},
}
