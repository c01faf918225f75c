package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/finalize"
	"github.com/streamcore/streamcore/pkg/history"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/pipeline"
	"github.com/streamcore/streamcore/pkg/wsfanout"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	modelPath := os.Getenv("STREAMCORE_MODEL_PATH")
	if modelPath == "" {
		log.Fatal("Error: STREAMCORE_MODEL_PATH must be set to a whisper.cpp GGML model file.")
	}
	language := os.Getenv("STREAMCORE_LANGUAGE")
	if language == "" {
		language = "en"
	}
	configPath := os.Getenv("STREAMCORE_CONFIG_PATH")
	historyPath := os.Getenv("STREAMCORE_HISTORY_PATH")
	if historyPath == "" {
		historyPath = "streamcore_history.json"
	}
	debugAddr := os.Getenv("STREAMCORE_DEBUG_WS_ADDR")
	debugAudioDir := os.Getenv("STREAMCORE_DEBUG_AUDIO_DIR")

	logger := logging.NewSlogLogger(slog.Default())

	cfg := config.Default()
	cfg.Language = language
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	}

	dec := decoder.NewWhisperDecoder(logger)
	if err := dec.LoadModel(modelPath, cfg.Language); err != nil {
		log.Fatalf("Error loading whisper model: %v", err)
	}
	defer dec.UnloadModel()

	hist := history.NewStore(historyPath)

	var fanout *wsfanout.Broadcaster
	if debugAddr != "" {
		fanout = wsfanout.New()
		mux := http.NewServeMux()
		mux.Handle("/debug/stream", fanout)
		go func() {
			if err := http.ListenAndServe(debugAddr, mux); err != nil {
				logger.Warn("debug websocket server stopped", "error", err)
			}
		}()
	}

	broadcast := func(evType wsfanout.EventType, data interface{}) {
		if fanout == nil {
			return
		}
		fanout.Broadcast(context.Background(), wsfanout.Event{Type: evType, Data: data})
	}

	var recordingStartedAt time.Time

	cb := pipeline.Callbacks{
		OnCommittedTextChanged: func(text string) {
			fmt.Printf("\r\033[K[COMMITTED] %s", text)
			broadcast(wsfanout.EventCommittedText, text)
		},
		OnSpeculativeTextChanged: func(text string) {
			broadcast(wsfanout.EventSpeculativeText, text)
		},
		OnAudioLevel: func(rms float64) {
			broadcast(wsfanout.EventAudioLevel, rms)
		},
		OnMaxDurationReached: func() {
			logger.Warn("max session duration reached")
			broadcast(wsfanout.EventMaxDuration, nil)
		},
		OnFinalText: func(text string) {
			fmt.Printf("\r\033[K[FINAL] %s\n", text)
			broadcast(wsfanout.EventFinalText, text)

			rec := history.Record{
				ID:            fmt.Sprintf("%d", time.Now().UnixNano()),
				TimestampUnix: time.Now().Unix(),
				RawText:       text,
				DurationS:     time.Since(recordingStartedAt).Seconds(),
				Model:         modelPath,
			}
			if err := hist.Append(rec); err != nil {
				logger.Warn("failed to persist history record", "error", err)
			}
		},
	}

	if debugAudioDir != "" {
		if err := os.MkdirAll(debugAudioDir, 0o755); err != nil {
			logger.Warn("could not create debug audio dir", "error", err)
		} else {
			cb.OnFinalAudio = func(wav []byte) {
				path := filepath.Join(debugAudioDir, fmt.Sprintf("%d.wav", time.Now().UnixNano()))
				if err := os.WriteFile(path, wav, 0o644); err != nil {
					logger.Warn("failed to write debug audio snapshot", "error", err)
				}
			}
		}
	}

	var fillerWords []string
	if cfg.FilterFillerWords {
		fillerWords = finalize.DefaultFillerWords
	}
	p := pipeline.New(dec, cb, fillerWords, logger)

	recordingStartedAt = time.Now()
	if err := p.StartRecording(cfg); err != nil {
		log.Fatalf("Error starting recording: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nStopping...")
	p.StopRecording(context.Background())

	if fanout != nil {
		fanout.Close()
	}
}
