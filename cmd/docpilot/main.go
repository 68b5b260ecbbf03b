package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docpilot/docpilot/pkg/agent"
	"github.com/docpilot/docpilot/pkg/history"
	"github.com/docpilot/docpilot/pkg/llm"
	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/matcher"
	"github.com/docpilot/docpilot/pkg/mcp"
	"github.com/docpilot/docpilot/pkg/skills"
	"github.com/docpilot/docpilot/pkg/telemetry"
	"github.com/docpilot/docpilot/pkg/version"
)

func init() {
	viper.SetEnvPrefix("DOCPILOT")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.docpilot")
	viper.AddConfigPath(".")

	viper.SetDefault("provider", llm.ProviderAzure)
	viper.SetDefault("skills_dir", "skills")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

// llmConfigFromViper assembles the completion settings shared by the main
// client and the skill matcher.
func llmConfigFromViper() llm.Config {
	return llm.Config{
		Provider:  viper.GetString("provider"),
		APIKey:    viper.GetString("api_key"),
		BaseURL:   viper.GetString("base_url"),
		Model:     viper.GetString("model"),
		MaxTokens: viper.GetInt("max_tokens"),
	}
}

// mcpServersFromViper reads MCP endpoints from the config file. The agent
// falls back to the environment and then the default endpoint when empty.
func mcpServersFromViper() []mcp.ServerConfig {
	var configs []mcp.ServerConfig
	if err := viper.UnmarshalKey("mcp.servers", &configs); err != nil {
		logger.L.WithError(err).Warn("invalid mcp.servers configuration, ignoring")
		return nil
	}
	return configs
}

// newSession builds the fully wired session used by chat and serve.
func newSession(ctx context.Context) (*agent.Session, error) {
	cfg := llmConfigFromViper()
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	registry := skills.NewRegistry(viper.GetString("skills_dir"))

	opts := []agent.Option{
		agent.WithMatcher(matcher.New(cfg)),
		agent.WithTools(mcp.NewManager(mcpServersFromViper())),
	}

	if !viper.GetBool("no_save") {
		dbPath := viper.GetString("history_db")
		if dbPath == "" {
			home, err := os.UserHomeDir()
			if err == nil {
				dbPath = filepath.Join(home, ".docpilot", "threads.db")
			}
		}
		if dbPath != "" {
			store, err := history.NewBBoltStore(dbPath)
			if err != nil {
				logger.G(ctx).WithError(err).Warn("thread persistence unavailable")
			} else {
				opts = append(opts, agent.WithStore(store))
			}
		}
	}

	session := agent.NewSession(registry, client, opts...)
	if err := session.Initialize(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

var rootCmd = &cobra.Command{
	Use:   "docpilot",
	Short: "Documentation assistant with skill-based routing",
	Long: `DocPilot is a documentation assistant that routes questions to
specialized skills, pulls live documentation through MCP tools, and keeps
multi-turn conversation threads.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.SetLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		logger.SetFormat(viper.GetString("log_format"))
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().String("provider", "", "completion provider (openai or azure)")
	rootCmd.PersistentFlags().String("model", "", "model or deployment name")
	rootCmd.PersistentFlags().String("api-key", "", "completion API key")
	rootCmd.PersistentFlags().String("base-url", "", "completion endpoint URL")
	rootCmd.PersistentFlags().Int("max-tokens", 0, "maximum tokens per response")
	rootCmd.PersistentFlags().String("skills-dir", "", "skill catalog directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text or json)")
	rootCmd.PersistentFlags().Bool("no-save", false, "disable thread persistence")

	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("max_tokens", rootCmd.PersistentFlags().Lookup("max-tokens"))
	viper.BindPFlag("skills_dir", rootCmd.PersistentFlags().Lookup("skills-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("no_save", rootCmd.PersistentFlags().Lookup("no-save"))

	rootCmd.AddCommand(withTracing(chatCmd))
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(versionCmd)

	ctx := context.Background()
	shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        viper.GetBool("tracing.enabled"),
		ServiceName:    "docpilot",
		SamplerType:    viper.GetString("tracing.sampler"),
		SamplerRatio:   viper.GetFloat64("tracing.ratio"),
		ServiceVersion: version.Version,
	})
	if err != nil {
		logger.L.WithError(err).Warn("tracing unavailable")
	} else {
		defer shutdown(ctx)
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
