package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/registry-submit/internal/model"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"run", "plan", "history", "configure"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestResolveConfigPath(t *testing.T) {
	t.Cleanup(func() { cfgFile = "" })

	cfgFile = ""
	assert.Equal(t, model.DefaultConfigPath(), resolveConfigPath())

	cfgFile = "/tmp/custom.yaml"
	assert.Equal(t, "/tmp/custom.yaml", resolveConfigPath())
}

func TestRunConfigCarriesTiming(t *testing.T) {
	cfg := &model.AppConfig{
		Mailbox: model.MailboxConfig{
			Sender:       "otp@example.com",
			PollInterval: 5 * time.Second,
			MaxPolls:     3,
			DateSkew:     2 * time.Second,
		},
		Form: model.FormConfig{
			URL:             "https://registry.example.com",
			PageLoadTimeout: 20 * time.Second,
			FieldTimeout:    time.Second,
		},
		Run:  model.RunConfig{BatchSize: 20, PauseBetweenBatches: 500 * time.Millisecond},
	}

	rc := runConfig(cfg)

	assert.Equal(t, 20, rc.BatchSize)
	assert.Equal(t, "otp@example.com", rc.Otp.Sender)
	assert.Equal(t, 3, rc.Otp.MaxPolls)
	assert.Equal(t, 2*time.Second, rc.Form.DateSkew)
	assert.Equal(t, "https://registry.example.com", rc.Form.URL)
	assert.Equal(t, 20*time.Second, rc.Form.PageLoadTimeout)
}

func TestSheetConfigReadsCredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600))

	sc, err := sheetConfig(&model.AppConfig{Sheet: model.SheetConfig{
		SpreadsheetID:   "sheet-1",
		InputRange:      "!A1:Z",
		OutputRange:     "Results!A1:D",
		CredentialsFile: path,
	}})

	require.NoError(t, err)
	assert.Equal(t, "sheet-1", sc.SpreadsheetID)
	assert.JSONEq(t, `{"type":"service_account"}`, string(sc.CredentialsJSON))
}

func TestSheetConfigMissingCredentialsFileIsFatal(t *testing.T) {
	_, err := sheetConfig(&model.AppConfig{Sheet: model.SheetConfig{
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	}})

	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
}

func TestFormValidators(t *testing.T) {
	assert.NoError(t, validatePort("993"))
	assert.Error(t, validatePort("imap"))
	assert.Error(t, validatePort(" "))

	assert.NoError(t, validateURL("https://registry.example.com/register"))
	assert.Error(t, validateURL("registry.example.com"))

	assert.Error(t, validateRequired("Host")(""))
	assert.NoError(t, validateRequired("Host")("imap.example.com"))
}
