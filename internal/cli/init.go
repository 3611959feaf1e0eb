package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/marketpan/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config.yaml",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(out, configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Fprintf(out, "Config directory %s already initialized.\n", configDir)
		return nil
	}
	fmt.Fprintf(out, "Initialized %s. Set TWITTER_BEARER_TOKEN, FINNHUB_API_KEY, GROK_API_KEY,\n", configDir)
	fmt.Fprintln(out, "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID, then run 'marketpan doctor'.")
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(out io.Writer, path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# marketpan configuration
# Secrets are read from the environment variables named by the *_env keys.

poll:
  interval: 5m

sources:
  twitter:
    bearer_token_env: TWITTER_BEARER_TOKEN
    every: 30m
    max_results: 5
    accounts:
      - elonmusk
      - michaelsaylor
      - CathieDWood
      - brian_armstrong
      - cz_binance
      - VitalikButerin
  finnhub:
    api_key_env: FINNHUB_API_KEY
    categories: [forex, crypto, merger]
  rss:
    feeds: []
    # - "https://www.coindesk.com/arc/outboundfeeds/rss/"
    lookback: 24h

classifier:
  mode: llm            # llm or keywords
  max_attempts: 3
  llm:
    base_url: https://api.x.ai/v1
    model: grok-2-latest
    api_key_env: GROK_API_KEY
    requests_per_minute: 60
  keywords:
    threshold: 3
    # weights:
    #   "rate cut": 4
    #   "etf": 3

notify:
  telegram:
    bot_token_env: TELEGRAM_BOT_TOKEN
    chat_id_env: TELEGRAM_CHAT_ID
    topic_id_env: TELEGRAM_TOPIC_ID

storage:
  backend: json        # json or sqlite
  dir: .marketpan/data
  path: .marketpan/marketpan.db
  max_seen_per_type: 0 # 0 keeps every ID

privacy:
  redact:
    enabled: false
    patterns: []

metrics:
  listen: ""           # e.g. ":9090" to serve /metrics

log:
  level: info
  format: ""           # text, json, or empty to pick by terminal
`
