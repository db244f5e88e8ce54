// Package draft defines the captured queue items and their replay payloads.
//
// A payload's kind is decided once, at ingestion time: either the item is
// replayed by reference (copy) or it is a poll that must be recreated from the
// captured fields. It is never re-sniffed later.
package draft

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	// KindCopy replays the original item by reference (copy from the source chat).
	KindCopy Kind = "copy"
	// KindPoll recreates a poll from the captured fields.
	KindPoll Kind = "poll"
)

// Draft is one captured source item.
type Draft struct {
	ID        int
	Snippet   string
	Payload   Payload
	Sent      bool
	Deleted   bool
	CreatedAt int64
}

// Payload is the tagged union stored alongside a draft.
type Payload struct {
	Kind Kind  `json:"kind"`
	Poll *Poll `json:"poll,omitempty"`
}

func CopyPayload() Payload { return Payload{Kind: KindCopy} }

func PollPayload(p Poll) Payload {
	n := p.Normalized()
	return Payload{Kind: KindPoll, Poll: &n}
}

func (p Payload) IsPoll() bool { return p.Kind == KindPoll && p.Poll != nil }

func EncodePayload(p Payload) ([]byte, error) { return json.Marshal(p) }

func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if len(b) == 0 {
		return Payload{Kind: KindCopy}, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	if p.Kind == "" {
		p.Kind = KindCopy
	}
	return p, nil
}

// Poll captures everything needed to recreate a poll at publish time.
type Poll struct {
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	Anonymous      bool     `json:"is_anonymous"`
	AllowsMultiple bool     `json:"allows_multiple_answers,omitempty"`
	Quiz           bool     `json:"is_quiz,omitempty"`
	CorrectOption  int      `json:"correct_option_id,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
	OpenPeriod     int      `json:"open_period,omitempty"`
	CloseDate      int64    `json:"close_date,omitempty"`
}

// Normalized enforces the platform constraints on a captured poll:
// quiz and multiple-answers are mutually exclusive, the quiz correct index
// must point at an existing option (default 0), the explanation only applies
// to quizzes, and open_period is only kept when close_date is absent.
func (p Poll) Normalized() Poll {
	if p.Question == "" {
		p.Question = "Pregunta"
	}
	if p.Quiz {
		p.AllowsMultiple = false
		if p.CorrectOption < 0 || p.CorrectOption >= len(p.Options) {
			p.CorrectOption = 0
		}
	} else {
		p.CorrectOption = 0
		p.Explanation = ""
	}
	if p.CloseDate != 0 {
		p.OpenPeriod = 0
	}
	return p
}

const snippetMax = 120

// Snippet derives the short display text for a draft: message text or caption
// when present, otherwise a type label.
func Snippet(text, caption string, payload Payload) string {
	s := strings.TrimSpace(text)
	if s == "" {
		s = strings.TrimSpace(caption)
	}
	if s == "" {
		if payload.IsPoll() {
			s = "[encuesta] " + strings.TrimSpace(payload.Poll.Question)
			s = strings.TrimSpace(s)
		} else {
			s = "[contenido]"
		}
	}
	return truncate(s, snippetMax)
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	rs := []rune(s)
	return string(rs[:maxRunes-1]) + "…"
}
