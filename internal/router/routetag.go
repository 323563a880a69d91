package router

import (
	"fmt"
	"regexp"
	"strings"
)

const routePrefix = "[ROUTE:"

// DefaultDetectionChars is how many characters of a reply may pass before a
// route tag has to be closed.
const DefaultDetectionChars = 50

// maxRouteLine caps how much of a tagged first line is buffered while waiting
// for its newline.
const maxRouteLine = 2000

var (
	routeTag    = regexp.MustCompile(`(?i)^\[ROUTE:([A-Za-z0-9_-]+)\]\s*(.*)$`)
	routeHeader = regexp.MustCompile(`(?i)^\[ROUTE:[A-Za-z0-9_-]+\]`)
)

// ParseRouteLine parses the first line of a model reply.
//
// A well-formed "[ROUTE:<agent-id>] <query>" yields a specialist decision (the
// query may be empty; callers fall back to the transcript). A line that does
// not start with a route tag yields a local decision. A line that starts like
// one but is malformed yields a local decision and [ErrMalformedRouteTag].
func ParseRouteLine(line string) (Decision, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToUpper(line), routePrefix) {
		return Local(), nil
	}
	m := routeTag.FindStringSubmatch(line)
	if m == nil {
		return Local(), fmt.Errorf("%w: %q", ErrMalformedRouteTag, line)
	}
	return Specialist(m[1], strings.TrimSpace(m[2])), nil
}

// Verdict is the state of a [Detector].
type Verdict int

const (
	// Undecided means more text is needed.
	Undecided Verdict = iota
	// VerdictLocal means the reply is a local answer and may be spoken.
	VerdictLocal
	// VerdictRoute means the reply is a route tag; stop the stream.
	VerdictRoute
)

// Detector judges the first line of a streamed reply. Feed deltas until the
// verdict is no longer [Undecided]; nothing should be spoken before that.
// A Detector is used by one goroutine.
type Detector struct {
	window  int
	buf     strings.Builder
	verdict Verdict
	dec     Decision
	err     error
}

// NewDetector returns a detector whose route tag must close within window
// characters. A reply whose tag is still open past the window is judged as it
// stands. Once the tag is closed the rest of the first line is buffered until
// a newline or the end of the stream. window <= 0 selects
// [DefaultDetectionChars].
func NewDetector(window int) *Detector {
	if window <= 0 {
		window = DefaultDetectionChars
	}
	return &Detector{window: window}
}

// Feed appends a delta and returns the verdict so far.
func (d *Detector) Feed(delta string) Verdict {
	if d.verdict != Undecided {
		return d.verdict
	}
	d.buf.WriteString(delta)
	text := d.buf.String()
	trimmed := strings.TrimLeft(text, " \t\r\n")

	// A reply that cannot grow into a route tag is local right away.
	if !couldBeRouteTag(trimmed) {
		d.verdict = VerdictLocal
		d.dec = Local()
		return d.verdict
	}

	line, complete := trimmed, false
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		line, complete = trimmed[:i], true
	}
	end := strings.IndexByte(line, ']')
	closed := end >= 0 && end < d.window

	switch {
	case !closed && len(line) > d.window:
		d.verdict, d.dec = VerdictLocal, Local()
		d.err = fmt.Errorf("%w: tag not closed within %d characters", ErrMalformedRouteTag, d.window)
		return d.verdict
	case complete:
		return d.judge(line)
	case closed && (!routeHeader.MatchString(line[:end+1]) || len(line) > maxRouteLine):
		return d.judge(line)
	}
	return Undecided
}

// Finish judges whatever is buffered when the stream ends before a verdict.
func (d *Detector) Finish() Verdict {
	if d.verdict != Undecided {
		return d.verdict
	}
	return d.judge(strings.TrimLeft(d.buf.String(), " \t\r\n"))
}

// Decision returns the decision once a verdict is reached.
func (d *Detector) Decision() Decision { return d.dec }

// Err returns [ErrMalformedRouteTag] when the first line looked like a tag but
// failed to parse.
func (d *Detector) Err() error { return d.err }

// Buffered returns all text fed so far.
func (d *Detector) Buffered() string { return d.buf.String() }

func (d *Detector) judge(line string) Verdict {
	dec, err := ParseRouteLine(line)
	d.dec, d.err = dec, err
	if dec.IsSpecialist() {
		d.verdict = VerdictRoute
	} else {
		d.verdict = VerdictLocal
	}
	return d.verdict
}

// couldBeRouteTag reports whether s is a prefix of a route tag or starts with
// the tag prefix.
func couldBeRouteTag(s string) bool {
	upper := strings.ToUpper(s)
	if len(upper) <= len(routePrefix) {
		return strings.HasPrefix(routePrefix, upper)
	}
	return strings.HasPrefix(upper, routePrefix)
}
