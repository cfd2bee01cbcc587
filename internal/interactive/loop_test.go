package interactive

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/reed/internal/console"
)

type fakeUI struct {
	mu     sync.Mutex
	events []string
}

func (u *fakeUI) record(event string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, event)
}

func (u *fakeUI) Banner()                { u.record("banner") }
func (u *fakeUI) Help([]console.Command) { u.record("help") }
func (u *fakeUI) Clear()                 { u.record("clear") }
func (u *fakeUI) Notice(s string)        { u.record("notice:" + s) }
func (u *fakeUI) Error(s string)         { u.record("error:" + s) }
func (u *fakeUI) Println(string)         {}
func (u *fakeUI) Prompt(string)          { u.record("prompt") }

func (u *fakeUI) has(event string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.events {
		if e == event {
			return true
		}
	}
	return false
}

func (u *fakeUI) count(event string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, e := range u.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeController struct {
	text    string
	playing bool
	pauses  int
	resumes int
	stops   int
}

func (c *fakeController) CurrentText() string { return c.text }

func (c *fakeController) Pause() bool {
	c.pauses++
	if !c.playing {
		return false
	}
	c.playing = false
	return true
}

func (c *fakeController) Resume() bool {
	c.resumes++
	if c.playing || c.text == "" {
		return false
	}
	c.playing = true
	return true
}

func (c *fakeController) Stop() bool {
	c.stops++
	was := c.text != ""
	c.playing = false
	return was
}

func newLoop(input string, ui *fakeUI, spoken *[]string) *Loop {
	return &Loop{
		Input: strings.NewReader(input),
		Speak: func(text string) error {
			*spoken = append(*spoken, text)
			return nil
		},
		UI: ui,
	}
}

func TestQuitWordsEndLoop(t *testing.T) {
	for _, word := range []string{"/quit", "/EXIT", "  /Quit  "} {
		var spoken []string
		ui := &fakeUI{}
		l := newLoop(word+"\nnever spoken\n", ui, &spoken)
		if code := l.Run(t.Context()); code != 0 {
			t.Fatalf("%q: expected exit code 0, got %d", word, code)
		}
		if len(spoken) != 0 {
			t.Fatalf("%q: expected nothing spoken, got %v", word, spoken)
		}
	}
}

func TestEOFEndsLoop(t *testing.T) {
	var spoken []string
	ui := &fakeUI{}
	l := newLoop("first line\n\n   \nsecond line", ui, &spoken)
	if code := l.Run(t.Context()); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if len(spoken) != 2 || spoken[0] != "first line" || spoken[1] != "second line" {
		t.Fatalf("unexpected spoken text %v", spoken)
	}
	if !ui.has("banner") {
		t.Fatalf("expected banner")
	}
}

func TestHelpAndClear(t *testing.T) {
	var spoken []string
	ui := &fakeUI{}
	l := newLoop("/help\n/CLEAR\n", ui, &spoken)
	l.Run(t.Context())
	if !ui.has("help") || !ui.has("clear") {
		t.Fatalf("expected help and clear, got %v", ui.events)
	}
	if ui.count("banner") != 2 {
		t.Fatalf("expected clear to reprint banner, got %v", ui.events)
	}
	if len(spoken) != 0 {
		t.Fatalf("commands must not be spoken, got %v", spoken)
	}
}

func TestReplayWithoutController(t *testing.T) {
	var spoken []string
	ui := &fakeUI{}
	l := newLoop("/replay\nhello\n/replay\n", ui, &spoken)
	l.Run(t.Context())
	if !ui.has("notice:No text to replay.") {
		t.Fatalf("expected empty replay notice, got %v", ui.events)
	}
	if len(spoken) != 2 || spoken[1] != "hello" {
		t.Fatalf("expected hello to be replayed, got %v", spoken)
	}
}

func TestReplayUsesControllerText(t *testing.T) {
	var spoken []string
	ui := &fakeUI{}
	ctrl := &fakeController{text: "from controller"}
	l := newLoop("typed\n/replay\n", ui, &spoken)
	l.Controller = ctrl
	l.Run(t.Context())
	if len(spoken) != 2 || spoken[1] != "from controller" {
		t.Fatalf("expected controller text to be replayed, got %v", spoken)
	}

	spoken = nil
	ui = &fakeUI{}
	l = newLoop("/replay\n", ui, &spoken)
	l.Controller = &fakeController{}
	l.Run(t.Context())
	if len(spoken) != 0 || !ui.has("notice:No text to replay.") {
		t.Fatalf("expected notice for empty controller text, got %v / %v", spoken, ui.events)
	}
}

func TestTransportCommands(t *testing.T) {
	var spoken []string
	ui := &fakeUI{}
	ctrl := &fakeController{text: "playing text", playing: true}
	l := newLoop("/pause\n/pause\n/resume\n/stop\n", ui, &spoken)
	l.Controller = ctrl
	l.Run(t.Context())

	if ctrl.pauses != 2 || ctrl.resumes != 1 || ctrl.stops != 1 {
		t.Fatalf("unexpected calls pause=%d resume=%d stop=%d", ctrl.pauses, ctrl.resumes, ctrl.stops)
	}
	if ui.count("notice:Nothing to pause.") != 1 {
		t.Fatalf("expected one refused pause, got %v", ui.events)
	}
	if ui.has("notice:Nothing to stop.") {
		t.Fatalf("stop should have succeeded, got %v", ui.events)
	}

	ui = &fakeUI{}
	l = newLoop("/stop\n/pause\n", ui, &spoken)
	l.Run(t.Context())
	if !ui.has("notice:Nothing to stop.") || !ui.has("notice:Nothing to pause.") {
		t.Fatalf("expected notices without a controller, got %v", ui.events)
	}
}

func TestSpeakErrorKeepsLoopRunning(t *testing.T) {
	ui := &fakeUI{}
	calls := 0
	l := &Loop{
		Input: strings.NewReader("one\ntwo\n"),
		Speak: func(string) error {
			calls++
			return errors.New("no supported audio player found on plan9")
		},
		UI: ui,
	}
	if code := l.Run(t.Context()); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if calls != 2 || ui.count("error:no supported audio player found on plan9") != 2 {
		t.Fatalf("expected both lines attempted and reported, got %d calls, %v", calls, ui.events)
	}
}

func TestPasteIsOneUtterance(t *testing.T) {
	var spoken []string
	ui := &fakeUI{}
	l := newLoop("first paragraph\n\n  second paragraph  \n", ui, &spoken)
	l.PasteWindow = 200 * time.Millisecond
	l.Run(t.Context())
	if len(spoken) != 1 || spoken[0] != "first paragraph\nsecond paragraph" {
		t.Fatalf("expected joined utterance, got %q", spoken)
	}
}

func TestCancelEndsLoop(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ui := &fakeUI{}
	l := &Loop{Input: reader, Speak: func(string) error { return nil }, UI: ui}

	result := make(chan int, 1)
	go func() { result <- l.Run(ctx) }()
	cancel()
	select {
	case code := <-result:
		if code != 0 {
			t.Fatalf("expected exit code 0, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
}
