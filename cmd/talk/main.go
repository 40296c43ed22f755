// talk is a console conversation with the documentation engine. Typed
// questions run through the same engine the daemon uses; answers are
// "spoken" by printing them word-paced to the terminal, so the whole
// loop can be exercised without a browser or an audio device.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/answer"
	"github.com/teslashibe/go-talkmode/pkg/capture"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/talk"
	"github.com/teslashibe/go-talkmode/pkg/transcript"
)

var (
	styleUser   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	styleVoice  = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9"))
	styleSource = lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
)

func main() {
	useOpenAI := flag.Bool("openai", false, "answer with OpenAI instead of the built-in templates")
	model := flag.String("model", "", "OpenAI model override")
	lang := flag.String("lang", "en-US", "conversation language tag")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	level := "warn"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	provider, err := buildProvider(*useOpenAI, *model)
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		os.Exit(1)
	}

	// No recognizer: the console listens with its keyboard. Capture
	// stays in its unsupported state and the engine runs submit-only.
	capt, err := capture.New(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		os.Exit(1)
	}
	defer capt.Close()

	play, err := playback.New(newConsoleVoice(os.Stdout), playback.WithLanguage(*lang))
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		os.Exit(1)
	}
	defer play.Close()

	// settled gets a poke whenever the engine returns to idle, which is
	// how the prompt knows one question has fully played out.
	settled := make(chan struct{}, 1)

	engine, err := talk.New(capt, play, provider, talk.WithCallbacks(talk.Callbacks{
		OnTurn: printTurn,
		OnNotice: func(n talk.Notice) {
			fmt.Println(styleError.Render(n.Message))
		},
		OnStateChange: func(st talk.Status) {
			if st.Mode == talk.ModeIdle {
				select {
				case settled <- struct{}{}:
				default:
				}
			}
		},
	}))
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go engine.Run(ctx)

	fmt.Println(styleDim.Render("Ask about the documentation. Empty line or Ctrl-D quits."))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(styleUser.Render("you> "))
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			break
		}
		if err := engine.Submit(ctx, text); err != nil {
			fmt.Println(styleError.Render(err.Error()))
			continue
		}
		select {
		case <-settled:
		case <-ctx.Done():
			return
		}
	}
}

func buildProvider(useOpenAI bool, model string) (answer.Provider, error) {
	if !useOpenAI {
		return answer.NewTemplate(), nil
	}
	var opts []answer.OpenAIOption
	if model != "" {
		opts = append(opts, answer.WithModel(model))
	}
	return answer.NewOpenAI(os.Getenv("OPENAI_API_KEY"), opts...)
}

func printTurn(t transcript.Turn) {
	if t.Role != transcript.RoleAssistant {
		return
	}
	for _, link := range t.Links {
		fmt.Println(styleSource.Render("  → " + link.Title + " (" + link.URL + ")"))
	}
	for _, step := range t.Steps {
		fmt.Println(styleDim.Render("  • " + step))
	}
}

// consoleVoice is a playback.Synthesizer that renders speech as
// word-paced terminal output. It reports a single always-ready voice,
// so the controller's catalog wait resolves immediately.
type consoleVoice struct {
	out *os.File
}

func newConsoleVoice(out *os.File) *consoleVoice {
	return &consoleVoice{out: out}
}

// wordsPerMinute paces the printout at rate 1.0.
const wordsPerMinute = 170

func (c *consoleVoice) Voices() ([]playback.Voice, bool) {
	return []playback.Voice{
		{ID: "console", Name: "Console", Language: "en-US", Local: true, Default: true},
	}, true
}

func (c *consoleVoice) VoicesChanged(fn func()) func() {
	// The catalog never changes.
	return func() {}
}

func (c *consoleVoice) Speak(req playback.Request, sink func(playback.Event)) (playback.Job, error) {
	j := &consoleJob{
		out:    c.out,
		words:  strings.Fields(req.Text),
		sink:   sink,
		cancel: make(chan struct{}),
		pause:  make(chan bool),
	}
	delay := time.Minute / wordsPerMinute
	if req.Rate > 0 {
		delay = time.Duration(float64(delay) / req.Rate)
	}
	go j.run(delay)
	return j, nil
}

type consoleJob struct {
	out    *os.File
	words  []string
	sink   func(playback.Event)
	cancel chan struct{}
	pause  chan bool
}

func (j *consoleJob) run(delay time.Duration) {
	j.sink(playback.Event{Kind: playback.EventStarted})
	fmt.Fprint(j.out, styleVoice.Render("doc> "))
	paused := false
	for i, w := range j.words {
		for {
			select {
			case <-j.cancel:
				fmt.Fprintln(j.out)
				return
			case p := <-j.pause:
				if p != paused {
					paused = p
					if p {
						j.sink(playback.Event{Kind: playback.EventPaused})
					} else {
						j.sink(playback.Event{Kind: playback.EventResumed})
					}
				}
				continue
			case <-time.After(delay):
			}
			if !paused {
				break
			}
		}
		if i > 0 {
			fmt.Fprint(j.out, " ")
		}
		fmt.Fprint(j.out, styleVoice.Render(w))
	}
	fmt.Fprintln(j.out)
	j.sink(playback.Event{Kind: playback.EventEnded})
}

func (j *consoleJob) Cancel() {
	select {
	case <-j.cancel:
	default:
		close(j.cancel)
	}
}

func (j *consoleJob) Pause() {
	select {
	case j.pause <- true:
	default:
	}
}

func (j *consoleJob) Resume() {
	select {
	case j.pause <- false:
	default:
	}
}

var _ playback.Synthesizer = (*consoleVoice)(nil)
var _ playback.Job = (*consoleJob)(nil)
