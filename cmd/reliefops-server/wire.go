package main

import (
	"context"
	"log/slog"

	"github.com/OutllierRejects/reliefops/internal/config"
	"github.com/OutllierRejects/reliefops/internal/eventbus"
	"github.com/OutllierRejects/reliefops/internal/geo"
	"github.com/OutllierRejects/reliefops/internal/llm"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/pushnotification"
	"github.com/OutllierRejects/reliefops/pkg/storage"
)

func openStorage(ctx context.Context, env *config.StorageEnv) (storage.Storage, func(), error) {
	noop := func() {}
	switch env.Type {
	case "s3":
		s, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		return s, noop, err
	case "sqlite":
		s, err := storage.NewSQLiteStorage(ctx, env.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "firestore":
		s, err := storage.NewFirestoreStorage(ctx, env.FirestoreProject, env.FirestoreCredentials, env.FirestoreCollection)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := storage.NewLocalStorage(env.BaseDir)
		return s, noop, err
	}
}

// newModel returns nil without an API key; every stage then uses its
// rule-based path.
func newModel(env *config.LLMEnv) llm.Client {
	if env.OpenAIAPIKey == "" {
		slog.Info("no language model configured, using rule-based stages")
		return nil
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:      env.OpenAIAPIKey,
		BaseURL:     env.OpenAIBaseURL,
		Model:       env.OpenAIModel,
		Temperature: env.Temperature,
		MaxTokens:   env.MaxTokens,
	})
}

func newGeo(ctx context.Context, env *config.GeoEnv) (geo.Extractor, geo.Resolver, func()) {
	closeFn := func() {}
	extractors := geo.Chain{}
	if env.LanguageCredentials != "" {
		le, err := geo.NewLanguageExtractor(ctx, env.LanguageCredentials)
		if err != nil {
			slog.Warn("location extraction service unavailable, using keywords", "error", err)
		} else {
			extractors = append(extractors, le)
			closeFn = func() { _ = le.Close() }
		}
	}
	extractors = append(extractors, geo.KeywordExtractor{})

	var resolver geo.Resolver
	if env.MapsAPIKey != "" {
		gr, err := geo.NewGoogleResolver(env.MapsAPIKey, env.MapsRegion)
		if err != nil {
			slog.Warn("geocoding unavailable", "error", err)
		} else {
			resolver = gr
		}
	}
	return extractors, resolver, closeFn
}

func newTransports(env *config.Env, bus *eventbus.Bus, push *pushnotification.Sender) notification.Router {
	router := notification.Router{
		notification.ChannelInApp: notification.NewInAppTransport(bus),
	}
	if env.SMTPHost != "" {
		router[notification.ChannelEmail] = notification.NewEmailTransport(notification.SMTPConfig{
			Host:     env.SMTPHost,
			Port:     env.SMTPPort,
			Username: env.SMTPUsername,
			Password: env.SMTPPassword,
			From:     env.SMTPFrom,
		})
	}
	if env.SMSGatewayURL != "" {
		router[notification.ChannelSMS] = notification.NewSMSTransport(notification.SMSConfig{
			GatewayURL: env.SMSGatewayURL,
			Token:      env.SMSGatewayToken,
			From:       env.SMSFrom,
		}, nil)
	}
	if push.Configured() {
		router[notification.ChannelPush] = push
	}
	channels := make([]string, 0, len(router))
	for ch := range router {
		channels = append(channels, string(ch))
	}
	slog.Info("notification channels configured", "channels", channels)
	return router
}
