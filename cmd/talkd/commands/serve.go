package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-talkmode/internal/config"
	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/answer"
	"github.com/teslashibe/go-talkmode/pkg/bridge"
	"github.com/teslashibe/go-talkmode/pkg/capture"
	"github.com/teslashibe/go-talkmode/pkg/deepgram"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/talk"
	"github.com/teslashibe/go-talkmode/pkg/transcript"
	"github.com/teslashibe/go-talkmode/pkg/web"
)

var (
	serveAddr   string
	serveStatic string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversation daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "directory of UI assets to serve at /")
	rootCmd.AddCommand(serveCmd)
}

// app holds the wired process. The bridge callbacks are created before
// the engine exists, so they reach it through this struct; everything
// is assigned before any connection is accepted.
type app struct {
	engine *talk.Engine
	server *web.Server
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log.Init(cfg.LogLevel)

	a := &app{}

	endpoint, err := bridge.New(
		bridge.WithOnSubmit(func(text string) {
			if err := a.engine.Submit(context.Background(), text); err != nil {
				log.Warn("submit from browser rejected", "error", err)
			}
		}),
		bridge.WithOnCommand(func(action string) {
			switch action {
			case "start":
				if err := a.engine.StartTalk(context.Background()); err != nil {
					log.Warn("talk mode start failed", "error", err)
				}
			case "stop":
				a.engine.StopTalk()
			default:
				log.Warn("unknown browser command", "action", action)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer endpoint.Close()

	var recognizer capture.Recognizer = endpoint
	if cfg.Recognition.Mode == config.RecognitionDeepgram {
		recognizer, err = deepgram.New(deepgram.Config{
			APIKey: cfg.Recognition.APIKey,
			Model:  cfg.Recognition.Model,
		}, endpoint)
		if err != nil {
			return err
		}
	}

	capt, err := capture.New(recognizer, capture.WithLanguage(cfg.Language))
	if err != nil {
		return err
	}
	defer capt.Close()

	play, err := playback.New(endpoint, playback.WithLanguage(cfg.Language))
	if err != nil {
		return err
	}
	defer play.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	journal, closeStore, err := buildJournal(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := journal.Load(ctx); err != nil {
		log.Warn("transcript load failed, starting empty", "error", err)
	}

	engineOpts := []talk.Option{
		talk.WithJournal(journal),
		talk.WithCallbacks(talk.Callbacks{
			OnStateChange: func(st talk.Status) { a.server.PublishState(st) },
			OnTurn:        func(t transcript.Turn) { a.server.PublishTurn(t) },
			OnNotice:      func(n talk.Notice) { a.server.PublishNotice(n) },
		}),
	}
	if d := cfg.Engine.SilenceTimeout(); d > 0 {
		engineOpts = append(engineOpts, talk.WithSilenceTimeout(d))
	}
	if d := cfg.Engine.AnswerTimeout(); d > 0 {
		engineOpts = append(engineOpts, talk.WithAnswerTimeout(d))
	}
	if d := cfg.Engine.Backoff(); d > 0 {
		engineOpts = append(engineOpts, talk.WithBackoff(d))
	}
	if d := cfg.Engine.RearmDelay(); d > 0 {
		engineOpts = append(engineOpts, talk.WithRearmDelay(d))
	}

	engine, err := talk.New(capt, play, provider, engineOpts...)
	if err != nil {
		return err
	}
	a.engine = engine

	a.server = web.New(web.Config{
		Addr:     cfg.Addr,
		Engine:   engine,
		Playback: play,
		Endpoint: endpoint,
		Static:   serveStatic,
	})

	log.Info("talkd starting",
		"addr", cfg.Addr,
		"answer_provider", cfg.Answer.Provider,
		"recognition", cfg.Recognition.Mode,
		"language", cfg.Language,
	)

	go engine.Run(ctx)
	return a.server.Run(ctx)
}

// buildProvider constructs the configured answer provider.
func buildProvider(cfg *config.Config) (answer.Provider, error) {
	switch cfg.Answer.Provider {
	case config.ProviderHTTP:
		return answer.NewHTTP(cfg.Answer.URL)
	case config.ProviderOpenAI:
		var opts []answer.OpenAIOption
		if cfg.Answer.Model != "" {
			opts = append(opts, answer.WithModel(cfg.Answer.Model))
		}
		return answer.NewOpenAI(cfg.Answer.APIKey, opts...)
	case config.ProviderTemplate:
		return answer.NewTemplate(), nil
	default:
		return nil, fmt.Errorf("unknown answer provider %q", cfg.Answer.Provider)
	}
}

// buildJournal constructs the conversation record with its configured
// persistence. The returned closer releases the store.
func buildJournal(cfg *config.Config) (*transcript.Log, func(), error) {
	switch cfg.Transcript.Store {
	case config.StoreJSON:
		store := transcript.NewJSONStore(cfg.Transcript.Path)
		return transcript.New(transcript.WithStore(store)), func() { store.Close() }, nil
	case config.StoreBadger:
		store, err := transcript.NewBadgerStore(transcript.BadgerOptions{Dir: cfg.Transcript.Path})
		if err != nil {
			return nil, nil, err
		}
		return transcript.New(transcript.WithStore(store)), func() { store.Close() }, nil
	default:
		return transcript.New(), func() {}, nil
	}
}
