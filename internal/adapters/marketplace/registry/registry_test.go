package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_RegistersAllMarketplaces(t *testing.T) {
	want := models.AllMarketplaces()
	models.SortMarketplaces(want)
	assert.Equal(t, want, Default().Marketplaces())
}

func TestBuildAll_MissingCredentials(t *testing.T) {
	cfg := &config.Config{}
	creds := config.Credentials{
		Trendyol:    config.TrendyolCredentials{SupplierID: "1", APIKey: "k", APISecret: "s"},
		Ciceksepeti: config.CiceksepetiCredentials{APIKey: "k"},
	}

	res := Default().BuildAll(context.Background(), cfg, creds, logger.NewNopLogger())

	require.Contains(t, res.Adapters, models.Trendyol)
	require.Contains(t, res.Adapters, models.Ciceksepeti)
	assert.Len(t, res.Adapters, 2)
	assert.Len(t, res.Unavailable, 5)
	for m, err := range res.Unavailable {
		assert.True(t, errors.Is(err, apperrors.ErrMissingCredentials), "%s: %v", m, err)
	}
}
