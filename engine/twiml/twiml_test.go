package twiml

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderInboundGreeting(t *testing.T) {
	r := Response{
		Say{Text: "Hello!"},
		Record{Action: "/voice/process_recording", Method: "POST", MaxLength: 30, FinishOnKey: "#", PlayBeep: true, Transcribe: true, TranscribeCallback: "/voice/transcription"},
		Say{Text: "Nothing recorded."},
		Hangup{},
	}
	out, err := Render(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<Response><Say voice="alice">Hello!</Say>` +
		`<Record action="/voice/process_recording" method="POST" maxLength="30" finishOnKey="#" playBeep="true" transcribe="true" transcribeCallback="/voice/transcription"></Record>` +
		`<Say voice="alice">Nothing recorded.</Say><Hangup></Hangup></Response>`
	if string(out) != want {
		t.Fatalf("got\n%s\nwant\n%s", out, want)
	}
}

func TestRenderGatherWithPrompt(t *testing.T) {
	r := Response{
		Gather{Action: "/voice/continue", Method: "POST", NumDigits: 1, Timeout: 10, ActionOnEmptyResult: true, Prompts: []Say{{Text: "Press 1."}}},
	}
	out, err := Render(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `<Gather action="/voice/continue" method="POST" numDigits="1" timeout="10" actionOnEmptyResult="true"><Say voice="alice">Press 1.</Say></Gather>`) {
		t.Fatalf("gather = %s", out)
	}
}

func TestRenderEscapesSpokenText(t *testing.T) {
	out, err := Render(Response{Say{Text: `Tom & Jerry <b>"hi"</b>`}, Hangup{}})
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if strings.Contains(s, "<b>") || !strings.Contains(s, "Tom &amp; Jerry &lt;b&gt;") {
		t.Fatalf("text not escaped: %s", s)
	}
}

func TestRenderRequiresTerminalDirective(t *testing.T) {
	cases := map[string]Response{
		"empty":      nil,
		"say only":   {Say{Text: "hi"}},
		"say at end": {Record{}, Say{Text: "bye"}},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Render(r); !errors.Is(err, ErrUnterminated) {
				t.Fatalf("expected ErrUnterminated, got %v", err)
			}
			if _, err := Inline(r); !errors.Is(err, ErrUnterminated) {
				t.Fatalf("inline: expected ErrUnterminated, got %v", err)
			}
		})
	}
}

func TestInline(t *testing.T) {
	s, err := Inline(Response{Say{Text: "Hello", Voice: "man"}, Hangup{}})
	if err != nil {
		t.Fatal(err)
	}
	if s != `<Response><Say voice="man">Hello</Say><Hangup></Hangup></Response>` {
		t.Fatalf("inline = %s", s)
	}
}

func TestEmpty(t *testing.T) {
	if !strings.HasSuffix(string(Empty()), "<Response><Hangup></Hangup></Response>") {
		t.Fatalf("empty = %s", Empty())
	}
}
