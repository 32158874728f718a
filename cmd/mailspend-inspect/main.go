// Command mailspend-inspect fetches candidate messages for a connected
// account, dumps their flattened bodies to files and prints what the
// field extractor sees. This utility is used to collect email samples
// for extraction tests and to debug the rule tables against real mail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailspend/mailspend/pkg/config"
	"github.com/mailspend/mailspend/pkg/credentials"
	"github.com/mailspend/mailspend/pkg/extract"
	"github.com/mailspend/mailspend/pkg/importer"
	"github.com/mailspend/mailspend/pkg/logging"
	gmailbox "github.com/mailspend/mailspend/pkg/mailbox/gmail"
)

func main() {
	accountID := flag.String("account", "", "connected mailbox address to inspect")
	outDir := flag.String("out", "data/dump", "directory for dumped message bodies")
	query := flag.String("query", "", "override the candidate queries with a single expression")
	flag.Parse()

	if *accountID == "" {
		fmt.Fprintln(os.Stderr, "usage: mailspend-inspect -account user@example.com [-out dir] [-query expr]")
		os.Exit(2)
	}

	if err := run(*accountID, *outDir, *query); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(accountID, outDir, query string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogJSON)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	credStore, err := credentials.NewStore(ctx, pool, logger)
	if err != nil {
		return err
	}
	oauthCfg, err := credentials.OAuthConfig(cfg.SecretsFilePath)
	if err != nil {
		return err
	}
	provider := credentials.NewProvider(credStore, oauthCfg, logger)

	mb, err := gmailbox.NewOpener(provider, logger).Open(ctx, accountID)
	if err != nil {
		return err
	}

	var queries []string
	if query != "" {
		queries = []string{query}
	}
	ids, err := importer.NewLocator(queries, logger).FindCandidates(ctx, mb)
	if err != nil {
		return err
	}
	logger.Info("found candidates", "account_id", accountID, "count", len(ids))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	dumped := 0
	for _, id := range ids {
		msg, err := mb.Message(ctx, id)
		if err != nil {
			logger.Warn("failed to fetch message", "message_id", id, "error", err)
			continue
		}

		body := extract.PlainText(msg)
		if body == "" {
			logger.Warn("empty message body", "message_id", id, "subject", msg.Header("Subject"))
			continue
		}

		candidate := extract.Extract(body, msg.Headers, msg.ReceivedAt)
		logger.Info("extracted fields",
			"message_id", id,
			"subject", msg.Header("Subject"),
			"title", candidate.Title,
			"amount", candidate.Amount,
			"vendor", candidate.Vendor,
			"occurred_at", candidate.OccurredAt,
			"usable", candidate.Usable(),
		)

		name := sanitizeFilename(fmt.Sprintf("%s_%s_%s.txt",
			msg.ReceivedAt.Format("2006-01-02_150405"), id, msg.Header("Subject")))
		path := filepath.Join(outDir, name)
		if _, err := os.Stat(path); err == nil {
			logger.Debug("file already exists, skipping", "file", name)
			continue
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			logger.Warn("failed to write dump file", "file", name, "error", err)
			continue
		}
		dumped++
	}

	logger.Info("inspection complete", "dumped", dumped, "directory", outDir)
	return nil
}

var (
	unsafeChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	underscoreRun = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
