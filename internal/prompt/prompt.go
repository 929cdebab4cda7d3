// Package prompt composes the system prompt injected into every LLM request
// during a call.
//
// The composer is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use. Empty sections are omitted entirely rather than
// rendering as empty headers.
package prompt

import (
	"fmt"
	"strings"
)

// speechRules are the delivery constraints appended to every system prompt.
// The agent's output is spoken over a phone line, so anything that only works
// visually has to be forbidden up front.
const speechRules = `You are speaking with a caller over a phone line. Follow these rules:
1. Keep responses short and conversational, one to three sentences.
2. Never use markdown, bullet points, emoji, or any visual formatting.
3. Spell out numbers, dates, and abbreviations the way a person would say them aloud.
4. If you are interrupted, stop and address what the caller just said.
5. Ask one question at a time.`

// CallContext carries the dynamic parts of the prompt that change per call or
// per turn.
type CallContext struct {
	// CallerNumber is the caller's phone number, when known.
	CallerNumber string

	// Reflections are the agent's own running notes about the conversation,
	// produced by the background reflection loop. Most recent last.
	Reflections []string
}

// Compose builds the full system prompt from the configured persona and the
// per-call context. persona may be empty, in which case a minimal default
// identity is used.
func Compose(persona string, cc CallContext) string {
	var sb strings.Builder

	p := strings.TrimSpace(persona)
	if p == "" {
		p = "You are a helpful voice assistant answering a phone call."
	}
	sb.WriteString(p)

	sb.WriteString("\n\n")
	sb.WriteString(speechRules)

	if cc.CallerNumber != "" {
		fmt.Fprintf(&sb, "\n\nThe caller's number is %s.", cc.CallerNumber)
	}

	if len(cc.Reflections) > 0 {
		sb.WriteString("\n\nYour private notes on the conversation so far:")
		for _, r := range cc.Reflections {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			sb.WriteString("\n- ")
			sb.WriteString(r)
		}
	}

	return sb.String()
}

// ComposeReflection builds the prompt for the background reflection loop: a
// request to summarise the conversation and note anything the agent should
// keep in mind.
func ComposeReflection(transcript string) string {
	var sb strings.Builder
	sb.WriteString("Below is the transcript of an ongoing phone call you are handling.\n")
	sb.WriteString("In two or three short sentences, note what the caller wants, what has been resolved, and anything you should keep in mind.\n")
	sb.WriteString("Write plainly, these notes are for your own use.\n\n")
	sb.WriteString(transcript)
	return sb.String()
}
