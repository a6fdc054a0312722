// Package planner implements the deterministic natural-language intent
// parser, plan builder, and approval-gated executor. Parsing is pure
// pattern matching over lowercased input, no model call, so the same
// utterance always yields the same plan.
package planner

import (
	"regexp"
	"sort"
	"strings"
)

// Verb is one of the recognised command verbs.
type Verb string

const (
	VerbReply    Verb = "reply"
	VerbForward  Verb = "forward"
	VerbSchedule Verb = "schedule"
	VerbDelete   Verb = "delete"
	VerbUpdate   Verb = "update"
	VerbCreate   Verb = "create"
	VerbEmail    Verb = "email"
	VerbMessage  Verb = "message"
	VerbFind     Verb = "find"
	VerbList     Verb = "list"
)

// verbOrder fixes verb-selection priority: the first matching verb in
// this list wins when an utterance could match more than one (e.g.
// "reply to and forward" matches reply first).
var verbOrder = []struct {
	verb Verb
	re   *regexp.Regexp
}{
	{VerbReply, regexp.MustCompile(`\breply\b|\breplies\b|\brespond\b`)},
	{VerbForward, regexp.MustCompile(`\bforward\b`)},
	{VerbSchedule, regexp.MustCompile(`\bschedule\b`)},
	{VerbDelete, regexp.MustCompile(`\bdelete\b|\bremove\b`)},
	{VerbUpdate, regexp.MustCompile(`\bupdate\b|\bedit\b`)},
	{VerbCreate, regexp.MustCompile(`\bcreate\b|\bnew\b`)},
	{VerbEmail, regexp.MustCompile(`\bemail\b|\bmail\b`)},
	{VerbMessage, regexp.MustCompile(`\bmessage\b|\bmsg\b|\bping\b`)},
	{VerbFind, regexp.MustCompile(`\bfind\b|\bsearch\b`)},
	{VerbList, regexp.MustCompile(`\blist\b|\bshow\b`)},
}

// Source is a recognised connector origin constraint.
type Source string

const (
	SourceTeams   Source = "teams"
	SourceSlack   Source = "slack"
	SourceOutlook Source = "outlook"
	SourceGmail   Source = "gmail"
	SourceNotion  Source = "notion"
)

// TimeWindow is a recognised relative time constraint.
type TimeWindow string

const (
	TimeToday     TimeWindow = "today"
	TimeYesterday TimeWindow = "yesterday"
	TimeThisWeek  TimeWindow = "this_week"
	TimeLastWeek  TimeWindow = "last_week"
	TimeThisMonth TimeWindow = "this_month"
	TimeLastMonth TimeWindow = "last_month"
)

// Constraints narrows an Intent's targets.
type Constraints struct {
	Source Source
	Time   TimeWindow
	Label  string
	Folder string
}

// Intent is the parsed, deterministic representation of one utterance.
type Intent struct {
	Verb        Verb
	Targets     []string
	Artifacts   []string
	Constraints Constraints
	Raw         string
}

var (
	emailRe        = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	quotedRe       = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	nameAfterPrep  = regexp.MustCompile(`\b(?:to|with|from|and)\s+([A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)?)`)
	possessiveName = regexp.MustCompile(`\b([A-Z][a-zA-Z]*)'s\b`)
	teamRe         = regexp.MustCompile(`(?i)\bthe\s+([\w-]+)\s+team\b`)
	channelHashRe  = regexp.MustCompile(`#([\w-]+)`)
	channelWordRe  = regexp.MustCompile(`(?i)\bthe\s+([\w-]+)\s+channel\b`)
	phraseAfterRe  = regexp.MustCompile(`(?i)\b(?:the|about|for)\s+([a-zA-Z][\w ]{2,40})`)

	labelRe  = regexp.MustCompile(`label(?:led)?\s+["']?([\w-]+)`)
	folderRe = regexp.MustCompile(`\bin\s+(?:the\s+)?([\w-]+)\s+folder\b`)

	// Both token lists are ordered so an utterance naming more than one
	// source or window always resolves the same way.
	sourceTokens = []struct {
		token string
		src   Source
	}{
		{"teams", SourceTeams}, {"slack", SourceSlack}, {"outlook", SourceOutlook},
		{"gmail", SourceGmail}, {"notion", SourceNotion},
	}
	timeTokens = []struct {
		token  string
		window TimeWindow
	}{
		{"this week", TimeThisWeek}, {"last week", TimeLastWeek},
		{"this month", TimeThisMonth}, {"last month", TimeLastMonth},
		{"yesterday", TimeYesterday}, {"today", TimeToday},
	}
)

// ParseIntent deterministically parses a lowercase-normalised utterance
// into an Intent.
func ParseIntent(utterance string) Intent {
	raw := utterance
	text := strings.ToLower(utterance)

	intent := Intent{Raw: raw}
	for _, vo := range verbOrder {
		if vo.re.MatchString(text) {
			intent.Verb = vo.verb
			break
		}
	}

	intent.Targets = parseTargets(utterance, text)
	intent.Artifacts = parseArtifacts(utterance, text)
	intent.Constraints = parseConstraints(text)
	return intent
}

func parseTargets(original, lower string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, m := range emailRe.FindAllString(lower, -1) {
		add(m)
	}
	for _, m := range nameAfterPrep.FindAllStringSubmatch(original, -1) {
		add(m[1])
	}
	for _, m := range possessiveName.FindAllStringSubmatch(original, -1) {
		add(m[1])
	}
	for _, m := range teamRe.FindAllStringSubmatch(original, -1) {
		add("the " + strings.ToLower(m[1]) + " team")
	}
	for _, m := range channelHashRe.FindAllStringSubmatch(original, -1) {
		add("#" + m[1])
	}
	for _, m := range channelWordRe.FindAllStringSubmatch(original, -1) {
		add("the " + strings.ToLower(m[1]) + " channel")
	}
	sort.Strings(out)
	return out
}

var teamOrChannelTail = regexp.MustCompile(`(?i)\s+(team|channel)$`)

func parseArtifacts(original, lower string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if len(s) < 3 || len(s) > 60 {
			return
		}
		if teamOrChannelTail.MatchString(s) {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, m := range quotedRe.FindAllStringSubmatch(original, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range phraseAfterRe.FindAllStringSubmatch(lower, -1) {
		add(m[1])
	}
	return out
}

func parseConstraints(lower string) Constraints {
	var c Constraints
	for _, st := range sourceTokens {
		if strings.Contains(lower, st.token) {
			c.Source = st.src
			break
		}
	}
	// Multi-word windows come first so "this week" never half-matches as
	// a bare "week" token.
	for _, tt := range timeTokens {
		if strings.Contains(lower, tt.token) {
			c.Time = tt.window
			break
		}
	}
	if m := labelRe.FindStringSubmatch(lower); m != nil {
		c.Label = m[1]
	}
	if m := folderRe.FindStringSubmatch(lower); m != nil {
		c.Folder = m[1]
	}
	return c
}

// requiresTarget marks the verbs that need at least one resolved target.
var requiresTarget = map[Verb]bool{
	VerbEmail: true, VerbMessage: true, VerbForward: true, VerbSchedule: true,
}

// Validate rejects intents that cannot be planned as parsed.
func Validate(i Intent) error {
	if requiresTarget[i.Verb] && len(i.Targets) == 0 {
		return &ValidationError{Reason: "verb " + string(i.Verb) + " requires at least one target"}
	}
	return nil
}

// ValidationError reports a malformed intent.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "planner: " + e.Reason }
