// Package bot answers citizen chat messages. It has two surfaces: a FAQ
// responder scored by keyword overlap, and a status responder that maps the
// message to an intent and renders the matching complaints. Both degrade to
// a canned reply instead of surfacing errors to the chat widget.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"civicdesk/internal/config"
	"civicdesk/internal/domain"
	"civicdesk/internal/engine"
	"civicdesk/internal/projection"
)

type Intent string

const (
	IntentPending  Intent = projection.IntentPending
	IntentResolved Intent = projection.IntentResolved
	IntentRecent   Intent = projection.IntentRecent
	IntentDefault  Intent = projection.IntentDefault
)

// Keyword sets per intent, checked in precedence order.
var intentRules = []struct {
	intent   Intent
	keywords []string
}{
	{IntentPending, []string{"pending", "open", "waiting"}},
	{IntentResolved, []string{"resolved", "closed", "done"}},
	{IntentRecent, []string{"recent", "latest", "new"}},
}

// ClassifyIntent maps a free-text message to a status intent. The rule
// order is fixed: a message matching several sets gets the
// highest-precedence intent, so "any pending or resolved issues?" reads as
// pending.
func ClassifyIntent(message string) Intent {
	text := strings.ToLower(message)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.intent
			}
		}
	}
	return IntentDefault
}

const (
	replyEmptyMessage = "I'm here to help you. Please share your concern."
	replyNeedLogin    = "I need to know who you are to check your complaints. Please log in first."
	replyNoComplaints = "You haven't submitted any complaints yet."
	replyNoPending    = "Great news! You have no pending complaints. 🎉"
	replyNoResolved   = "You haven't had any complaints resolved yet."
	replyNoMatch      = "I couldn't find any complaints matching your request."
	replyStoreTrouble = "Sorry, I'm having trouble accessing your data right now."
)

var statusEmoji = map[string]string{
	domain.StatusNew:         "🆕",
	domain.StatusClassified:  "🔍",
	domain.StatusUnderAction: "⚡",
	domain.StatusResolved:    "✅",
}

type Responder struct {
	Projection projection.Service
	FAQ        []config.FAQEntry
	Fallbacks  []string
}

func New(p projection.Service, cfg *config.Config) Responder {
	r := Responder{Projection: p}
	if cfg != nil {
		r.FAQ = cfg.Bot.FAQ
		r.Fallbacks = cfg.Bot.Fallbacks
	}
	return r
}

// Answer handles a general FAQ message. The entry sharing the most
// keywords with the message wins; ties keep the earlier entry, and no
// overlap at all falls through to the first canned fallback.
func (r Responder) Answer(message string) string {
	if strings.TrimSpace(message) == "" {
		return replyEmptyMessage
	}
	text := strings.ToLower(message)
	var best *config.FAQEntry
	bestScore := 0
	for i := range r.FAQ {
		score := 0
		for _, kw := range r.FAQ[i].Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = &r.FAQ[i]
		}
	}
	if best != nil {
		return best.Reply
	}
	if len(r.Fallbacks) > 0 {
		return r.Fallbacks[0]
	}
	return replyEmptyMessage
}

// CheckStatus answers "where are my complaints" style messages. Store
// failures degrade to a canned reply; the chat surface never sees an error.
func (r Responder) CheckStatus(ctx context.Context, userID, message string) string {
	if userID == "" {
		return replyNeedLogin
	}
	intent := ClassifyIntent(message)
	items, err := r.Projection.StatusQuery(ctx, userID, string(intent))
	if err != nil {
		log.Printf("civicdesk: bot status check failed: %v", err)
		return replyStoreTrouble
	}
	if len(items) == 0 {
		if intent == IntentDefault {
			return replyNoComplaints
		}
		all, err := r.Projection.StatusQuery(ctx, userID, projection.IntentDefault)
		if err != nil {
			log.Printf("civicdesk: bot status check failed: %v", err)
			return replyStoreTrouble
		}
		if len(all) == 0 {
			return replyNoComplaints
		}
		switch intent {
		case IntentPending:
			return replyNoPending
		case IntentResolved:
			return replyNoResolved
		}
		return replyNoMatch
	}

	var b strings.Builder
	switch intent {
	case IntentRecent:
		b.WriteString("Here are your recent complaints:\n\n")
	case IntentPending:
		fmt.Fprintf(&b, "You have %d pending complaints:\n\n", len(items))
	case IntentResolved:
		fmt.Fprintf(&b, "You have %d resolved complaints:\n\n", len(items))
	default:
		fmt.Fprintf(&b, "You have %d complaints in total:\n\n", len(items))
	}
	for i, c := range items {
		emoji, ok := statusEmoji[c.Status]
		if !ok {
			emoji = "📋"
		}
		timeAgo := engine.FormatElapsed(c.TimePassed) + " ago"
		fmt.Fprintf(&b, "%d. %s **%s...**\n", i+1, emoji, truncate(c.Description, 40))
		fmt.Fprintf(&b, "   📊 Status: %s\n", strings.ToUpper(c.Status))
		fmt.Fprintf(&b, "   🏷️ Priority: %s\n", *c.Priority)
		fmt.Fprintf(&b, "   ⏰ Submitted: %s\n\n", timeAgo)
	}
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
