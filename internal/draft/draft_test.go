package draft

import (
	"strings"
	"testing"
)

func TestPollNormalized(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Poll
		want Poll
	}{
		{
			name: "quiz drops multiple answers",
			in:   Poll{Question: "Q", Options: []string{"A", "B"}, Quiz: true, AllowsMultiple: true, CorrectOption: 1},
			want: Poll{Question: "Q", Options: []string{"A", "B"}, Quiz: true, CorrectOption: 1},
		},
		{
			name: "quiz correct index out of range clamps to zero",
			in:   Poll{Question: "Q", Options: []string{"A", "B"}, Quiz: true, CorrectOption: 7},
			want: Poll{Question: "Q", Options: []string{"A", "B"}, Quiz: true, CorrectOption: 0},
		},
		{
			name: "regular poll drops quiz-only fields",
			in:   Poll{Question: "Q", Options: []string{"A"}, CorrectOption: 3, Explanation: "because"},
			want: Poll{Question: "Q", Options: []string{"A"}},
		},
		{
			name: "close date wins over open period",
			in:   Poll{Question: "Q", Options: []string{"A"}, OpenPeriod: 60, CloseDate: 1234},
			want: Poll{Question: "Q", Options: []string{"A"}, CloseDate: 1234},
		},
		{
			name: "empty question gets placeholder",
			in:   Poll{Options: []string{"A"}},
			want: Poll{Question: "Pregunta", Options: []string{"A"}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalized()
			if got.Question != tt.want.Question || got.Quiz != tt.want.Quiz ||
				got.AllowsMultiple != tt.want.AllowsMultiple || got.CorrectOption != tt.want.CorrectOption ||
				got.Explanation != tt.want.Explanation || got.OpenPeriod != tt.want.OpenPeriod ||
				got.CloseDate != tt.want.CloseDate {
				t.Fatalf("Normalized() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	t.Parallel()
	if got := Snippet("hola mundo", "", CopyPayload()); got != "hola mundo" {
		t.Fatalf("Snippet = %q", got)
	}
	if got := Snippet("", "un caption", CopyPayload()); got != "un caption" {
		t.Fatalf("Snippet = %q", got)
	}
	if got := Snippet("", "", CopyPayload()); got != "[contenido]" {
		t.Fatalf("Snippet = %q", got)
	}
	p := PollPayload(Poll{Question: "Q?", Options: []string{"A"}})
	if got := Snippet("", "", p); got != "[encuesta] Q?" {
		t.Fatalf("Snippet = %q", got)
	}
	long := strings.Repeat("x", 500)
	if got := Snippet(long, "", CopyPayload()); len([]rune(got)) != snippetMax {
		t.Fatalf("truncated snippet has %d runes", len([]rune(got)))
	}
}

func TestPayloadCodecRoundTrip(t *testing.T) {
	t.Parallel()
	in := PollPayload(Poll{
		Question:      "Q?",
		Options:       []string{"A", "B"},
		Anonymous:     true,
		Quiz:          true,
		CorrectOption: 1,
		Explanation:   "porque sí",
		OpenPeriod:    300,
	})
	b, err := EncodePayload(in)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	out, err := DecodePayload(b)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !out.IsPoll() || out.Poll.Question != "Q?" || out.Poll.CorrectOption != 1 || !out.Poll.Quiz {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	// Empty blob decodes as a copy payload.
	out, err = DecodePayload(nil)
	if err != nil || out.Kind != KindCopy {
		t.Fatalf("empty decode = %+v, %v", out, err)
	}
}
