package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/phat-labs/phatd/internal/daemon"
	"github.com/phat-labs/phatd/internal/llm"
	"github.com/phat-labs/phatd/pkg/corpus"
	"github.com/phat-labs/phatd/pkg/retrieval"
)

// loadConfig reads the daemon config named by the persistent flag.
func loadConfig(cmd *cobra.Command) (*daemon.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return daemon.LoadConfig(path)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the running daemon a question",
	Long: `Ask the running daemon a question through its HTTP API.

Examples:
  phatctl ask "what is the capital of France?"
  phatctl ask --source direct "who maintains the build server?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		source, _ := cmd.Flags().GetString("source")
		api, _ := cmd.Flags().GetString("api")

		payload, _ := json.Marshal(map[string]string{
			"question": question,
			"source":   source,
		})

		client := &http.Client{Timeout: 2 * time.Minute}
		resp, err := client.Post(api+"/v1/ask", "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("reach daemon at %s: %w", api, err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon returned HTTP %d: %s", resp.StatusCode, string(body))
		}

		var result struct {
			Answer    string `json:"answer"`
			Source    string `json:"source"`
			LatencyMS int64  `json:"latency_ms"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}

		fmt.Printf("[%s, %dms] %s\n", result.Source, result.LatencyMS, result.Answer)
		return nil
	},
}

func init() {
	askCmd.Flags().String("source", "", "evidence source to use (vector, direct, pgvector)")
	askCmd.Flags().String("api", "http://127.0.0.1:8090", "daemon API address")
}

// --- prepare ---

var prepareCmd = &cobra.Command{
	Use:   "prepare <raw-file>",
	Short: "Build a JSONL corpus from a raw text dump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		docs, err := corpus.Prepare(args[0])
		if err != nil {
			return err
		}
		if err := retrieval.WriteDocuments(out, docs); err != nil {
			return err
		}

		fmt.Printf("wrote %d documents (%d chars) to %s\n",
			len(docs), corpus.CharCount(docs), out)
		return nil
	},
}

func init() {
	prepareCmd.Flags().String("out", "corpus.jsonl", "output corpus path")
}

// --- shorten ---

var shortenCmd = &cobra.Command{
	Use:   "shorten <corpus-file>",
	Short: "Summarize overlong corpus documents through the LLM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		docs, err := retrieval.NewStore(args[0]).Load()
		if err != nil {
			return err
		}

		provider, err := daemon.NewProvider(cfg.LLM)
		if err != nil {
			return err
		}
		completer := llm.Completer{
			Provider:    provider,
			MaxTokens:   500,
			Temperature: 0.3,
		}

		shortened := corpus.Shorten(cmd.Context(), docs, limit, completer)
		if err := retrieval.WriteDocuments(args[0], shortened); err != nil {
			return err
		}

		fmt.Printf("corpus now %d chars across %d documents\n",
			corpus.CharCount(shortened), len(shortened))
		return nil
	},
}

func init() {
	shortenCmd.Flags().Int("limit", 500, "maximum characters per document")
}

// --- upsert ---

var upsertCmd = &cobra.Command{
	Use:   "upsert <corpus-file>",
	Short: "Push the corpus to the remote vector service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Vector.Endpoint == "" {
			return fmt.Errorf("vector.endpoint not configured")
		}

		docs, err := retrieval.NewStore(args[0]).Load()
		if err != nil {
			return err
		}

		client := retrieval.NewServiceClient(
			cfg.Vector.Endpoint, cfg.Vector.BearerToken, cfg.Vector.TopK)
		if err := client.Upsert(cmd.Context(), docs); err != nil {
			return err
		}

		fmt.Printf("upserted %d documents\n", len(docs))
		return nil
	},
	Args: cobra.ExactArgs(1),
}

// --- count ---

var countCmd = &cobra.Command{
	Use:   "count <corpus-file>",
	Short: "Report corpus size against the evidence budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		docs, err := retrieval.NewStore(args[0]).Load()
		if err != nil {
			return err
		}

		chars := corpus.CharCount(docs)
		fmt.Printf("%d documents, %d chars (budget %d)\n",
			len(docs), chars, cfg.Corpus.Budget)
		if chars > cfg.Corpus.Budget {
			fmt.Printf("over budget by %d chars; consider phatctl shorten\n",
				chars-cfg.Corpus.Budget)
		}
		return nil
	},
}
