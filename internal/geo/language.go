package geo

import (
	"context"
	"encoding/base64"
	"fmt"

	language "cloud.google.com/go/language/apiv2"
	"cloud.google.com/go/language/apiv2/languagepb"
	"google.golang.org/api/option"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// LanguageExtractor picks the most salient ADDRESS or LOCATION entity that
// Cloud Natural Language finds in a text.
type LanguageExtractor struct {
	client *language.Client
}

// NewLanguageExtractor takes base64 encoded service account JSON; empty uses
// application default credentials.
func NewLanguageExtractor(ctx context.Context, encodedCreds string) (*LanguageExtractor, error) {
	var opts []option.ClientOption
	if encodedCreds != "" {
		creds, err := base64.StdEncoding.DecodeString(encodedCreds)
		if err != nil {
			return nil, fmt.Errorf("failed to decode language credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}
	client, err := language.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create language client: %w", err)
	}
	return &LanguageExtractor{client: client}, nil
}

func (e *LanguageExtractor) Close() error {
	return e.client.Close()
}

func (e *LanguageExtractor) ExtractLocation(ctx context.Context, text string) (string, error) {
	resp, err := e.client.AnalyzeEntities(ctx, &languagepb.AnalyzeEntitiesRequest{
		Document: &languagepb.Document{
			Source: &languagepb.Document_Content{Content: text},
			Type:   languagepb.Document_PLAIN_TEXT,
		},
		EncodingType: languagepb.EncodingType_UTF8,
	})
	if err != nil {
		return "", cerr.NewError(cerr.Unavailable, "entity extraction unavailable", err)
	}
	// Addresses are more precise than place names, so they win regardless of order.
	var location string
	for _, ent := range resp.GetEntities() {
		switch ent.GetType() {
		case languagepb.Entity_ADDRESS:
			return ent.GetName(), nil
		case languagepb.Entity_LOCATION:
			if location == "" {
				location = ent.GetName()
			}
		}
	}
	return location, nil
}
