package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/rahulwaghole14/aiinterviewerbackend-sub002/api/http"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/config"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/gate"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/httpserver"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/infra/storage"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/interview"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/llm"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/proctor"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/recording"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/summary"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/transcript"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	if cfg.TokenSecret == "" {
		log.Fatal("TOKEN_SECRET is required")
	}

	store := session.NewMemoryStore()
	hub := session.NewHub()
	accessGate := gate.New(cfg.AccessWindowBefore, cfg.AccessWindowAfter)

	artifacts := buildArtifactStore(cfg)

	var muxer recording.Muxer
	if ff := recording.NewFFmpegMuxer(); ff.Available() {
		muxer = ff
	} else {
		log.Printf("ffmpeg not found, merged recordings will be video-only")
	}
	assembler := recording.NewAssembler(store, artifacts, muxer, "")

	questions := llm.NewCerebrasClient(cfg.CerebrasAPIKey, cfg.CerebrasModel)

	var synth interview.Synthesizer
	switch cfg.TTSProvider {
	case "elevenlabs":
		synth = tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)
	default:
		synth = tts.NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramTTSModel)
	}
	log.Printf("using %s for question synthesis", synth.Name())

	pool := proctor.NewPool(cfg.DetectorPoolSize)
	var primary proctor.Detector
	if cfg.DetectorURL != "" {
		primary = &proctor.HTTPDetector{URL: cfg.DetectorURL, APIKey: cfg.DetectorAPIKey}
	}
	fallbackDet := &proctor.ClassicalDetector{}

	interviewCfg := interview.Config{
		MaxQuestions:     cfg.MaxQuestions,
		MinRecordingTime: cfg.MinRecordingTime,
		SilenceThreshold: cfg.SilenceThreshold,
		MaxAnswerTime:    cfg.MaxAnswerTime,
		QuestionTimeout:  cfg.QuestionTimeout,
		SynthesisTimeout: cfg.SynthesisTimeout,
		PlaybackTimeout:  cfg.PlaybackTimeout,
	}
	proctorCfg := proctor.MonitorConfig{
		Interval:      cfg.ProctorInterval,
		DebounceCount: cfg.ProctorDebounce,
	}
	manager := interview.NewManager(interviewCfg, proctorCfg, store, hub,
		assembler, questions, synth, artifacts, pool, primary, fallbackDet)

	aggregator := summary.NewAggregator(store, nil)

	e := httpserver.New()
	apihttp.Handlers{
		Store:       store,
		Hub:         hub,
		Gate:        accessGate,
		TokenSecret: []byte(cfg.TokenSecret),
		Manager:     manager,
		Assembler:   assembler,
		Aggregator:  aggregator,
		Dialer:      &transcript.AssemblyAIDialer{APIKey: cfg.AssemblyAIAPIKey},
	}.Register(e)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(ctx)
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

func buildArtifactStore(cfg config.Config) storage.Store {
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		s, err := storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
		if err != nil {
			log.Fatalf("supabase storage: %v", err)
		}
		log.Printf("storing artifacts in supabase bucket %q", cfg.SupabaseBucket)
		return s
	}
	s, err := storage.NewFSStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("local artifact storage: %v", err)
	}
	log.Printf("storing artifacts under %s", s.BaseDir)
	return s
}
