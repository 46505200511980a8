// Package daemon wires the bot together: conversations, poll loops,
// evidence sources, the answer pipeline, and the background workers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phat-labs/phatd/internal/channel/rocketchat"
	"github.com/phat-labs/phatd/internal/channel/teams"
	"github.com/phat-labs/phatd/internal/llm"
	"github.com/phat-labs/phatd/pkg/channel"
	"github.com/phat-labs/phatd/pkg/digest"
	"github.com/phat-labs/phatd/pkg/embeddings"
	"github.com/phat-labs/phatd/pkg/journal"
	"github.com/phat-labs/phatd/pkg/poller"
	"github.com/phat-labs/phatd/pkg/retrieval"
)

// Daemon is the assembled bot.
type Daemon struct {
	cfg       *Config
	completer llm.Completer
	extractor *llm.Extractor
	journal   *journal.Journal

	sources []retrieval.Source
	convs   []channel.Conversation
	loops   []*poller.Loop

	embStore   *embeddings.Store
	syncWorker *embeddings.SyncWorker
	digester   *digest.Worker
}

// New builds a daemon from config. jrnl may be nil to disable the
// exchange journal.
func New(ctx context.Context, cfg *Config, jrnl *journal.Journal) (*Daemon, error) {
	provider, err := NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg: cfg,
		completer: llm.Completer{
			Provider:    provider,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		},
		extractor: &llm.Extractor{Provider: provider},
		journal:   jrnl,
	}

	if err := d.buildSources(ctx); err != nil {
		return nil, err
	}
	if err := d.buildConversations(ctx); err != nil {
		return nil, err
	}
	if err := d.buildDigest(); err != nil {
		return nil, err
	}

	slog.Info("daemon assembled",
		"name", cfg.Name,
		"provider", provider.Name(),
		"sources", len(d.sources),
		"conversations", len(d.convs),
	)
	return d, nil
}

// NewProvider selects the completion provider from config.
func NewProvider(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return llm.NewAnthropic(cfg.APIKey, cfg.Model), nil
	case "openai":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: openai provider requires base_url")
		}
		return llm.NewOpenAICompat("openai", cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "azure":
		if cfg.BaseURL == "" || cfg.APIVersion == "" {
			return nil, fmt.Errorf("llm: azure provider requires base_url and api_version")
		}
		return llm.NewAzureOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.APIVersion), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// buildSources assembles the enabled evidence sources, in answer order.
func (d *Daemon) buildSources(ctx context.Context) error {
	if d.cfg.Vector.Enabled {
		client := retrieval.NewServiceClient(
			d.cfg.Vector.Endpoint, d.cfg.Vector.BearerToken, d.cfg.Vector.TopK)
		d.sources = append(d.sources, &retrieval.ServiceSource{
			Client: client,
			Budget: d.cfg.Vector.Budget,
		})
	}

	if d.cfg.Corpus.Enabled {
		d.sources = append(d.sources, &retrieval.DirectSource{
			Store:    retrieval.NewStore(d.cfg.Corpus.Path),
			Keywords: d.extractor.ExtractKeywords,
			Budget:   d.cfg.Corpus.Budget,
		})
	}

	if d.cfg.Embeddings.Enabled {
		if d.cfg.Corpus.Path == "" {
			return fmt.Errorf("embeddings: corpus.path must be set for the sync worker")
		}
		store, err := embeddings.NewStore(ctx, d.cfg.Embeddings.PostgresURL)
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			store.Close()
			return fmt.Errorf("embeddings: %w", err)
		}
		tei := embeddings.NewTEIClient(d.cfg.Embeddings.TEIURL)

		syncInterval, _ := time.ParseDuration(d.cfg.Embeddings.SyncInterval)
		d.embStore = store
		d.syncWorker = embeddings.NewSyncWorker(
			retrieval.NewStore(d.cfg.Corpus.Path), store, tei,
			syncInterval, d.cfg.Embeddings.BatchSize)
		d.sources = append(d.sources, &embeddings.Source{
			Store:  store,
			TEI:    tei,
			TopK:   d.cfg.Embeddings.TopK,
			Budget: d.cfg.Embeddings.Budget,
		})
	}

	if len(d.sources) == 0 {
		return fmt.Errorf("no evidence source enabled; enable vector, corpus, or embeddings")
	}
	return nil
}

// buildConversations assembles the enabled chat surfaces and their poll
// loops, one cursor file per conversation.
func (d *Daemon) buildConversations(ctx context.Context) error {
	pollCfg := poller.Config{
		Interval: d.cfg.PollIntervalDuration(),
		Trigger:  d.cfg.Trigger,
	}

	if d.cfg.Teams.Enabled {
		tokens := teams.NewDeviceTokens(
			d.cfg.Teams.TenantID, d.cfg.Teams.ClientID,
			d.cfg.Teams.Scope, d.cfg.Teams.TokenCache)

		chatID := d.cfg.Teams.ChatID
		if chatID == "" {
			if d.cfg.Teams.ChatTopic == "" {
				return fmt.Errorf("teams: chat_id or chat_topic required")
			}
			id, err := teams.FindChatByTopic(ctx, tokens, d.cfg.Teams.ChatTopic)
			if err != nil {
				return fmt.Errorf("teams: resolve chat: %w", err)
			}
			chatID = id
		}

		conv := teams.NewChat("teams:"+chatID, chatID, tokens)
		if err := d.addLoop(conv, tokens, pollCfg); err != nil {
			return err
		}
	}

	if d.cfg.RocketChat.Enabled {
		client := rocketchat.NewClient(
			d.cfg.RocketChat.ServerURL,
			d.cfg.RocketChat.Username,
			d.cfg.RocketChat.Password)
		conv := client.Channel(d.cfg.RocketChat.RoomName)
		if err := d.addLoop(conv, client, pollCfg); err != nil {
			return err
		}
	}

	if len(d.convs) == 0 {
		return fmt.Errorf("no conversation enabled; enable teams or rocketchat")
	}
	return nil
}

// addLoop registers a conversation with its own cursor and poll loop.
func (d *Daemon) addLoop(conv channel.Conversation, tokens channel.TokenSource, cfg poller.Config) error {
	cursor, err := poller.OpenCursor(filepath.Join(d.cfg.CursorDir, cursorFile(conv.Name())))
	if err != nil {
		return fmt.Errorf("open cursor for %s: %w", conv.Name(), err)
	}
	d.convs = append(d.convs, conv)
	d.loops = append(d.loops, poller.New(conv, tokens, cursor, d.onMessage(conv), cfg))
	return nil
}

// cursorFile maps a conversation name to a filesystem-safe cursor name.
func cursorFile(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\':
			return '-'
		}
		return r
	}, name)
	return safe + ".cursor"
}

// buildDigest assembles the optional discussion digest worker.
func (d *Daemon) buildDigest() error {
	if !d.cfg.Digest.Enabled {
		return nil
	}
	if d.cfg.Digest.ThreadURL == "" {
		return fmt.Errorf("digest: thread_url required")
	}

	conv := d.findConversation(d.cfg.Digest.Room)
	if conv == nil {
		return fmt.Errorf("digest: room %q does not match an enabled conversation", d.cfg.Digest.Room)
	}

	cfg := digest.DefaultConfig()
	if v, err := time.ParseDuration(d.cfg.Digest.Interval); err == nil && v > 0 {
		cfg.Interval = v
	}
	if v, err := time.ParseDuration(d.cfg.Digest.Window); err == nil && v > 0 {
		cfg.Window = v
	}

	d.digester = digest.NewWorker(
		digest.NewRedditFeed(d.cfg.Digest.ThreadURL), conv, d.completer, cfg)
	return nil
}

// findConversation resolves a digest room label ("teams", "rocketchat",
// or an exact conversation name) to a conversation.
func (d *Daemon) findConversation(room string) channel.Conversation {
	for _, conv := range d.convs {
		name := conv.Name()
		isTeams := strings.HasPrefix(name, "teams:")
		switch {
		case name == room:
			return conv
		case room == "teams" && isTeams:
			return conv
		case room == "rocketchat" && !isTeams:
			return conv
		}
	}
	return nil
}

// onMessage returns the dispatch handler for one conversation: answer
// the question with every enabled source and post the results.
func (d *Daemon) onMessage(conv channel.Conversation) poller.Handler {
	return func(ctx context.Context, msg channel.Message) error {
		question := ExtractQuestion(msg.Body, d.cfg.Trigger)
		if question == "" {
			slog.Debug("trigger without question, ignoring",
				"conversation", conv.Name(), "sender", msg.Sender)
			return nil
		}

		slog.Info("question received",
			"conversation", conv.Name(),
			"sender", msg.Sender,
			"question_len", len(question),
		)

		var answered, failed int
		for _, source := range d.sources {
			answerer := retrieval.Answerer{Source: source, Completer: d.completer}

			start := time.Now()
			answer, chunks, err := answerer.Answer(ctx, question)
			if err != nil {
				failed++
				slog.Error("answer failed",
					"conversation", conv.Name(),
					"source", source.Kind(),
					"error", err,
				)
				continue
			}

			reply := answer
			if len(d.sources) > 1 {
				reply = fmt.Sprintf("[%s] %s", source.Kind(), answer)
			}
			if m, ok := conv.(channel.Mentioner); ok && msg.Sender != "" {
				reply = m.Mention(msg.Sender) + reply
			}
			if err := conv.Post(ctx, reply); err != nil {
				failed++
				slog.Error("post failed",
					"conversation", conv.Name(),
					"source", source.Kind(),
					"error", err,
				)
				continue
			}
			answered++

			d.record(journal.Exchange{
				Conversation: conv.Name(),
				Sender:       msg.Sender,
				Question:     question,
				Source:       source.Kind(),
				Answer:       answer,
				Chunks:       chunks,
				LatencyMS:    time.Since(start).Milliseconds(),
				AskedAt:      msg.CreatedAt,
			})
		}

		if answered == 0 && failed > 0 {
			return fmt.Errorf("all %d sources failed", failed)
		}
		return nil
	}
}

// record writes to the journal if one is configured.
func (d *Daemon) record(ex journal.Exchange) {
	if d.journal == nil {
		return
	}
	if _, err := d.journal.Record(ex); err != nil {
		slog.Warn("journal write failed", "error", err)
	}
}

// Ask answers a question directly, outside any conversation, reporting
// the source kind used and the chunk count the answer was grounded on.
// Used by the HTTP API and the CLI. kind selects a single source by
// Kind name; empty uses the first enabled source.
func (d *Daemon) Ask(ctx context.Context, question, kind string) (string, string, int, error) {
	source := d.sources[0]
	if kind != "" {
		source = nil
		for _, s := range d.sources {
			if s.Kind() == kind {
				source = s
				break
			}
		}
		if source == nil {
			return "", "", 0, fmt.Errorf("no source %q enabled", kind)
		}
	}

	answerer := retrieval.Answerer{Source: source, Completer: d.completer}
	answer, chunks, err := answerer.Answer(ctx, question)
	if err != nil {
		return "", source.Kind(), 0, err
	}
	return answer, source.Kind(), chunks, nil
}

// ExtractQuestion strips markup and the trigger prefix from a message
// body, leaving the bare question.
func ExtractQuestion(body, trigger string) string {
	stripped := strings.TrimSpace(poller.StripMarkup(body))
	if trigger != "" && len(stripped) >= len(trigger) &&
		strings.EqualFold(stripped[:len(trigger)], trigger) {
		stripped = stripped[len(trigger):]
	}
	return strings.TrimSpace(stripped)
}

// Run starts the poll loops, background workers, and the HTTP API, and
// blocks until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, loop := range d.loops {
		loop := loop
		g.Go(func() error {
			if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if d.syncWorker != nil {
		g.Go(func() error {
			d.syncWorker.Run(ctx)
			return nil
		})
	}

	if d.digester != nil {
		g.Go(func() error {
			d.digester.Run(ctx)
			return nil
		})
	}

	if d.cfg.API.Addr != "" {
		g.Go(func() error {
			return d.serveAPI(ctx)
		})
	}

	err := g.Wait()

	if d.embStore != nil {
		d.embStore.Close()
	}
	return err
}
