// Package parser extracts a scheduling request from a free-form instruction
// such as `Send john "test message" in 2 minutes`.
//
// Each field is extracted independently by walking a fixed, ordered list of
// patterns. The first pattern that matches decides the field.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour
)

// Request is the structured form of an instruction. Empty Recipient or Body
// means the field was not found; HasDelay tells a zero delay apart from a
// missing one.
type Request struct {
	Recipient    string
	Body         string
	DelayMinutes int
	HasDelay     bool
}

// Complete reports whether every field needed to schedule was extracted.
func (r Request) Complete() bool {
	return r.Recipient != "" && r.Body != "" && r.HasDelay
}

// Missing lists the names of the fields that were not extracted.
func (r Request) Missing() []string {
	var out []string
	if r.Recipient == "" {
		out = append(out, "recipient")
	}
	if r.Body == "" {
		out = append(out, "message")
	}
	if !r.HasDelay {
		out = append(out, "delay")
	}
	return out
}

// Usage is shown to the operator when an instruction cannot be parsed.
const Usage = `Could not parse the request. Examples:
  Send john "test message" in 2 minutes
  Message sarah "meeting reminder" tomorrow
  Remind you "call back" in 1 hour
  Send alex "happy birthday" in 2 days
Use quotes around the message, name a contact and include the timing (in X minutes/hours/days).`

type delayRule struct {
	re         *regexp.Regexp
	multiplier int
}

// Matched against the lowercased input. "tomorrow" has no quantity group and
// always counts as one day.
var delayRules = []delayRule{
	{regexp.MustCompile(`\bin\s+(\d+)\s+days?\b`), minutesPerDay},
	{regexp.MustCompile(`\bin\s+(\d+)\s+hours?\b`), minutesPerHour},
	{regexp.MustCompile(`\bin\s+(\d+)\s+minutes?\b`), 1},
	{regexp.MustCompile(`\btomorrow\b`), minutesPerDay},
	{regexp.MustCompile(`\bafter\s+(\d+)\s+days?\b`), minutesPerDay},
	{regexp.MustCompile(`\bafter\s+(\d+)\s+hours?\b`), minutesPerHour},
	{regexp.MustCompile(`\bafter\s+(\d+)\s+minutes?\b`), 1},
}

// Matched against the lowercased input; group 1 is the recipient.
var recipientRules = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:to|send|message|remind)\s+([a-z]+)`),
	regexp.MustCompile(`\bsend\s+([a-z]+)\s+`),
	regexp.MustCompile(`^([a-z]+)\s+`),
	regexp.MustCompile(`\s+([a-z]+)\s+["'“‘]`),
}

// Matched against the original input so the body keeps its case. The quote
// rule has one group per quote style; the first non-empty group wins.
var bodyRules = []*regexp.Regexp{
	regexp.MustCompile(`"(.+?)"|'(.+?)'|“(.+?)”|‘(.+?)’`),
	regexp.MustCompile(`(?i)\b(?:saying|asking|about|that)\s+(.+?)(?:\s+(?:in|after)\b|$)`),
	regexp.MustCompile(`(?i)\bmessage\s+(.+?)(?:\s+(?:in|after)\b|$)`),
}

// Parse extracts recipient, body and delay from input. It has no side
// effects; callers check Complete before acting on the result.
func Parse(input string) Request {
	lower := strings.ToLower(input)

	var req Request
	req.DelayMinutes, req.HasDelay = parseDelay(lower)
	req.Recipient = parseRecipient(lower)
	req.Body = parseBody(input)
	return req
}

func parseDelay(lower string) (int, bool) {
	for _, rule := range delayRules {
		m := rule.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		qty := 1
		if len(m) > 1 {
			// \d+ can still overflow int; such a quantity falls back to one unit.
			if n, err := strconv.Atoi(m[1]); err == nil {
				qty = n
			}
		}
		return qty * rule.multiplier, true
	}
	return 0, false
}

func parseRecipient(lower string) string {
	for _, re := range recipientRules {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	return ""
}

func parseBody(input string) string {
	for _, re := range bodyRules {
		m := re.FindStringSubmatch(input)
		if m == nil {
			continue
		}
		for _, g := range m[1:] {
			if g != "" {
				return strings.TrimSpace(g)
			}
		}
	}
	return ""
}
