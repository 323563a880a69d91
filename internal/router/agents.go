package router

import (
	"sort"
	"strings"
	"unicode"
)

// Directory maps agent ids to spoken display names.
type Directory map[string]string

// DefaultAgents is the built-in directory.
var DefaultAgents = Directory{
	"deal-scanner":           "Deal Scanner",
	"newsletter-engine":      "Newsletter Engine",
	"reputation-monitor":     "Reputation Monitor",
	"compliance-engine":      "Compliance Engine",
	"outreach-agent":         "Outreach Agent",
	"overnight-deliverables": "Overnight Deliverables",
	"content-studio":         "Content Studio",
	"system-guardian":        "System Guardian",
	"print-designer":         "Print Designer",
	"argument-simulator":     "Argument Simulator",
	"zombie-resurrector":     "Zombie Resurrector",
	"codebase-archaeologist": "Codebase Archaeologist",
	"template-publisher":     "Template Publisher",
	"microtool-factory":      "Microtool Factory",
	"openclaw-core":          "OpenClaw Core",
}

// Name returns the display name for id. Unknown ids are title-cased with
// dashes and underscores turned into spaces.
func (d Directory) Name(id string) string {
	if n, ok := d[id]; ok && n != "" {
		return n
	}
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// IDs returns the known agent ids sorted.
func (d Directory) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Names returns the display names sorted by id.
func (d Directory) Names() []string {
	ids := d.IDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = d.Name(id)
	}
	return out
}

// Merge returns a directory with extra overriding d.
func (d Directory) Merge(extra Directory) Directory {
	out := make(Directory, len(d)+len(extra))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Lookup returns the agent id whose display name equals name,
// case-insensitively.
func (d Directory) Lookup(name string) (string, bool) {
	for _, id := range d.IDs() {
		if strings.EqualFold(d.Name(id), strings.TrimSpace(name)) {
			return id, true
		}
	}
	return "", false
}
