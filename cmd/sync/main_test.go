package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("operation", "update", "")
	flags.String("options", "full", "")
	flags.String("source", "", "")
	flags.String("target", "", "")
	flags.Bool("use-local-data", false, "")
	flags.StringSlice("stock-codes", nil, "")
	flags.StringSlice("fields", nil, "")
	flags.Int("quantity", -1, "")
	flags.String("sale-price", "", "")
	flags.String("list-price", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestReadChoice_Flags(t *testing.T) {
	flags := newFlags(t, "--target=trendyol", "--stock-codes=RUG-42", "--fields=quantity", "--quantity=0")

	choice, err := readChoice(flags, "")
	require.NoError(t, err)

	mode, err := choice.Mode()
	require.NoError(t, err)
	assert.Equal(t, models.ModeUpdateByID, mode)
	require.NotNil(t, choice.Quantity)
	assert.Equal(t, 0, *choice.Quantity)
	assert.NoError(t, choice.Validate())
}

func TestReadChoice_QuantityUnset(t *testing.T) {
	choice, err := readChoice(newFlags(t, "--options=qty"), "")
	require.NoError(t, err)
	assert.Nil(t, choice.Quantity)
	assert.Equal(t, models.OptionQty, choice.Options)
}

func TestReadChoice_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "choice.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"operation":"create","options":"copy","source":"trendyol","target":"n11","use_local_data":true}`), 0o600))

	choice, err := readChoice(newFlags(t), path)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCreate, choice.Operation)
	assert.Equal(t, models.N11, choice.Target)
	assert.True(t, choice.UseLocalData)
}
