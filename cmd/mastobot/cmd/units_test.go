package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/mastobot"
)

type storeService struct {
	config struct {
		Root    string `option:"root"`
		Verbose bool   `option:"verbose"`
	}
}

func (s *storeService) Name() string { return "store" }
func (s *storeService) Config() any  { return &s.config }

func TestWriteUnitsTable(t *testing.T) {
	catalog := mastobot.NewCatalog()
	require.NoError(t, catalog.Register(mastobot.Definition{Kind: mastobot.KindService, Name: "store", New: func() (mastobot.Unit, error) {
		return &storeService{}, nil
	}}))
	require.NoError(t, catalog.Register(mastobot.Definition{Kind: mastobot.KindModule, Name: "broken-poster", New: func() (mastobot.Unit, error) {
		return nil, errors.New("no")
	}}))

	buf := new(bytes.Buffer)
	writeUnitsTable(buf, catalog, "bot_")
	out := buf.String()

	assert.Contains(t, out, "root, verbose")
	assert.Contains(t, out, "BOT_SERVICE_STORE_<OPTION>")
	assert.Contains(t, out, "BOT_MODULE_BROKEN_POSTER_<OPTION>")
	assert.Contains(t, out, "?")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("store")), bytes.Index(buf.Bytes(), []byte("broken-poster")))
}

func TestUnitsCommand(t *testing.T) {
	rootCmd := NewRootCommand()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"units"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "KIND")
	assert.Contains(t, strings.ToUpper(buf.String()), "TOTAL")
}
