package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm(t *testing.T) {
	tokyo := Point{Lat: 35.6812, Lng: 139.7671}
	osaka := Point{Lat: 34.7025, Lng: 135.4959}

	assert.InDelta(t, 403, DistanceKm(tokyo, osaka), 5)
	assert.InDelta(t, 0, DistanceKm(tokyo, tokyo), 1e-9)
	assert.InDelta(t, DistanceKm(tokyo, osaka), DistanceKm(osaka, tokyo), 1e-9)
}

func TestKeywordExtractor(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Family stranded near the old mill, water rising", "the old mill"},
		{"Address: 12 Elm St, second floor", "12 Elm St"},
		{"Person trapped at 4 Harbor Road. Leg injury", "4 Harbor Road"},
		{"We need blankets", ""},
	}
	for _, tt := range tests {
		got, err := KeywordExtractor{}.ExtractLocation(context.Background(), tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

type extractorFunc func(ctx context.Context, text string) (string, error)

func (f extractorFunc) ExtractLocation(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

func TestChain(t *testing.T) {
	failing := extractorFunc(func(context.Context, string) (string, error) { return "", errors.New("quota") })
	empty := extractorFunc(func(context.Context, string) (string, error) { return "", nil })

	loc, err := Chain{failing, empty, KeywordExtractor{}}.ExtractLocation(context.Background(), "stuck near Pier 9")
	require.NoError(t, err)
	assert.Equal(t, "Pier 9", loc)

	_, err = Chain{failing, empty}.ExtractLocation(context.Background(), "nothing")
	assert.EqualError(t, err, "quota")
}
