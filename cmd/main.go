package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-rag/internal/chromemdb"
	"voice-rag/internal/config"
	"voice-rag/internal/db"
	"voice-rag/internal/embedding"
	"voice-rag/internal/helper"
	"voice-rag/internal/ingest"
	"voice-rag/internal/llmservice"
	"voice-rag/internal/models"
	"voice-rag/internal/pipeline"
	"voice-rag/internal/prompts"
	"voice-rag/internal/retriever"
	"voice-rag/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "path to the config file")
	ingestDir := flag.String("ingest", "", "directory of knowledge files to ingest")
	patterns := flag.String("patterns", "*.md,*.txt", "comma separated glob patterns for -ingest")
	reset := flag.Bool("reset", false, "clear the document store before ingesting")
	dryRun := flag.Bool("dry-run", false, "collect and chunk only, do not embed or store")
	query := flag.String("query", "", "run a single retrieval query and print the hits")
	chat := flag.Bool("chat", false, "start an interactive chat session")
	persona := flag.String("persona", prompts.DefaultName,
		"persona for -chat, one of: "+strings.Join(prompts.Names(), ", "))
	stats := flag.Bool("stats", false, "print document store statistics")
	exportPath := flag.String("export", "", "write a store snapshot to the given path")
	importPath := flag.String("import", "", "load a store snapshot from the given path")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config failed")
	}
	applyLogLevel(cfg.LogLevel, *debug)

	ctx := context.Background()
	switch {
	case *ingestDir != "":
		runIngest(ctx, cfg, *ingestDir, *patterns, *reset, *dryRun)
	case *query != "":
		runQuery(ctx, cfg, *query)
	case *chat:
		runChat(ctx, cfg, *persona)
	case *stats:
		runStats(ctx, cfg)
	case *exportPath != "":
		runExport(ctx, cfg, *exportPath)
	case *importPath != "":
		runImport(ctx, cfg, *importPath)
	default:
		flag.Usage()
	}
}

func applyLogLevel(level string, debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// buildStore opens the configured vector store backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return db.Open(ctx, &cfg.Store, cfg.Embedding.Dimension)
	default:
		return chromemdb.Open(cfg.Store.Path, cfg.Store.Table,
			chromemdb.WithEncryptionKey(cfg.Store.EncryptionKey))
	}
}

func runIngest(ctx context.Context, cfg *config.Config, dir, patternList string, reset, dryRun bool) {
	pats := strings.Split(patternList, ",")
	for i := range pats {
		pats[i] = strings.TrimSpace(pats[i])
	}

	docs, err := ingest.Collect(dir, pats, cfg.Retrieval.MaxChunkChars)
	if err != nil {
		log.Fatal().Err(err).Msg("collecting knowledge files failed")
	}
	log.Info().Int("chunks", len(docs)).Str("dir", dir).Msg("knowledge files collected")

	if dryRun {
		helper.PrettyPrint(docs)
		return
	}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening document store failed")
	}
	defer st.Close()

	if reset {
		if err := st.Reset(ctx); err != nil {
			log.Fatal().Err(err).Msg("resetting document store failed")
		}
	}

	// an empty knowledge folder is fine, the store just starts empty
	if len(docs) == 0 {
		log.Info().Msg("nothing to ingest")
		return
	}

	emb, err := embedding.NewProvider(&cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing embedding provider failed")
	}

	n, err := ingest.Run(ctx, st, emb, docs)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestion failed")
	}
	log.Info().Int("documents", n).Msg("ingestion complete")
}

func runQuery(ctx context.Context, cfg *config.Config, query string) {
	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening document store failed")
	}
	defer st.Close()

	emb, err := embedding.NewProvider(&cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing embedding provider failed")
	}

	r := retriever.NewRetriever(st, emb,
		retriever.WithMatchCount(cfg.Retrieval.MatchCount),
		retriever.WithThreshold(cfg.Retrieval.MatchThreshold))

	hits := r.Retrieve(ctx, query)
	if len(hits) == 0 {
		fmt.Println("no matching documents")
		return
	}
	for i, h := range hits {
		fmt.Printf("[%d] %.3f  %s  (%s)\n", i+1, h.Similarity, h.Content, h.Metadata["source"])
	}
	fmt.Println("\ncontext block as injected:")
	fmt.Println(retriever.Format(hits))
}

// buildChatPipeline assembles the frame pipeline for a chat session. When
// retrieval is disabled or its dependencies fail to come up, the chat
// runs without context injection rather than not at all.
func buildChatPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, func()) {
	noop := func() {}
	if !cfg.Retrieval.Enabled {
		log.Info().Msg("retrieval disabled by config")
		return pipeline.New(), noop
	}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("document store unavailable, continuing without retrieval")
		return pipeline.New(), noop
	}
	emb, err := embedding.NewProvider(&cfg.Embedding)
	if err != nil {
		log.Warn().Err(err).Msg("embedding provider unavailable, continuing without retrieval")
		_ = st.Close()
		return pipeline.New(), noop
	}

	strategy, err := pipeline.ParseStrategy(cfg.Retrieval.Strategy)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to the augment_system strategy")
	}

	r := retriever.NewRetriever(st, emb,
		retriever.WithMatchCount(cfg.Retrieval.MatchCount),
		retriever.WithThreshold(cfg.Retrieval.MatchThreshold))
	injector := pipeline.NewContextInjector(r,
		pipeline.WithStrategy(strategy),
		pipeline.WithMinQueryLength(cfg.Retrieval.MinQueryLength))

	return pipeline.New(injector), func() { _ = st.Close() }
}

func runChat(ctx context.Context, cfg *config.Config, persona string) {
	if err := cfg.RequireLLM(); err != nil {
		log.Fatal().Err(err).Msg("chat needs an llm endpoint")
	}
	client, err := llmservice.NewClient(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing llm client failed")
	}

	pipe, cleanup := buildChatPipeline(ctx, cfg)
	defer cleanup()

	sessionID, err := helper.GenerateUUID()
	if err != nil {
		log.Fatal().Err(err).Msg("generating session id failed")
	}
	log.Info().Str("session", sessionID).Str("persona", persona).Str("model", client.Model()).Msg("chat session started")

	if _, err := pipe.Process(ctx, pipeline.StartFrame{}, pipeline.Downstream); err != nil {
		log.Fatal().Err(err).Msg("pipeline rejected start frame")
	}

	system := prompts.Get(persona)
	var history []models.Message

	fmt.Println("say something (ctrl-d to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		frame := &pipeline.TranscriptionFrame{Text: text, UserID: sessionID, Timestamp: time.Now()}
		if _, err := pipe.Process(ctx, frame, pipeline.Downstream); err != nil {
			log.Error().Err(err).Msg("pipeline error on transcription")
			continue
		}

		history = append(history, models.Message{Role: models.RoleUser, Content: text})
		messages := append([]models.Message{{Role: models.RoleSystem, Content: system}}, history...)

		out, err := pipe.Process(ctx, &pipeline.MessagesFrame{Messages: messages}, pipeline.Downstream)
		if err != nil {
			log.Error().Err(err).Msg("pipeline error on messages")
			continue
		}
		prompt, ok := out.(*pipeline.MessagesFrame)
		if !ok {
			log.Error().Msg("messages frame did not come back from the pipeline")
			continue
		}

		reply, err := client.Chat(ctx, prompt.Messages)
		if err != nil {
			log.Error().Err(err).Msg("chat completion failed")
			continue
		}
		fmt.Println(reply)
		history = append(history, models.Message{Role: models.RoleAssistant, Content: reply})
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("reading input failed")
	}

	_, _ = pipe.Process(ctx, pipeline.EndFrame{}, pipeline.Downstream)
	log.Info().Str("session", sessionID).Msg("chat session ended")
}

func runStats(ctx context.Context, cfg *config.Config) {
	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening document store failed")
	}
	defer st.Close()

	count, err := st.Count(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("counting documents failed")
	}

	info := map[string]any{
		"driver":    cfg.Store.Driver,
		"documents": count,
	}
	if cfg.Store.Driver == config.DriverPostgres {
		info["table"] = cfg.Store.Table
	} else {
		info["path"] = cfg.Store.Path
	}
	helper.PrettyPrint(info)
}

func runExport(ctx context.Context, cfg *config.Config, path string) {
	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening document store failed")
	}
	defer st.Close()

	cs, ok := st.(*chromemdb.Store)
	if !ok {
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("snapshots need the chromem driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := helper.CreateFolder(dir); err != nil {
			log.Fatal().Err(err).Msg("creating snapshot folder failed")
		}
	}
	if err := cs.Export(path); err != nil {
		log.Fatal().Err(err).Msg("export failed")
	}
}

func runImport(ctx context.Context, cfg *config.Config, path string) {
	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("opening document store failed")
	}
	defer st.Close()

	cs, ok := st.(*chromemdb.Store)
	if !ok {
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("snapshots need the chromem driver")
	}
	if err := cs.Import(path); err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}
}
