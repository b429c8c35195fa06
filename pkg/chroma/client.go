package chroma

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/elie222/inbox-zero-sub019/pkg/config"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

const collectionName = "rule_decisions"

// Match is one previously classified email similar to the query.
type Match struct {
	AccountID string
	MessageID string
	Distance  float64
}

// ChromaClient stores embeddings of classified emails so the rule
// selector can show the model how similar mail was handled before.
type ChromaClient struct {
	client     chroma.Client
	collection chroma.Collection
}

func NewChromaClient(cfg *config.Config) (*ChromaClient, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}
	if cfg.GeminiApiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for embeddings")
	}
	os.Setenv("GEMINI_API_KEY", cfg.GeminiApiKey)

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	opts := []chroma.ClientOption{
		chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
		chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
	}
	switch {
	case cfg.ChromaDatabase != "" && cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant))
	case cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithTenant(cfg.ChromaTenant))
	}
	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(
		context.Background(),
		collectionName,
		chroma.WithEmbeddingFunctionCreate(embedFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	logger.Logger.Info().Str("collection", collectionName).Msg("[Chroma] Initialized client")
	return &ChromaClient{client: client, collection: collection}, nil
}

func documentID(accountID, messageID string) chroma.DocumentID {
	return chroma.DocumentID(accountID + ":" + messageID)
}

// Upsert stores or replaces the embedding of one classified email.
func (c *ChromaClient) Upsert(ctx context.Context, accountID, messageID, subject, body string) error {
	text := fmt.Sprintf("Subject: %s\n\nBody: %s", subject, body)
	if r := []rune(text); len(r) > 8000 {
		text = string(r[:8000])
	}

	metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
		"account_id": accountID,
		"message_id": messageID,
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	err = c.collection.Upsert(
		ctx,
		chroma.WithIDs(documentID(accountID, messageID)),
		chroma.WithMetadatas(metadata),
		chroma.WithTexts(text),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email embedding: %w", err)
	}
	return nil
}

// Similar returns up to limit stored emails of the account closest to text.
func (c *ChromaClient) Similar(ctx context.Context, accountID, text string, limit int) ([]Match, error) {
	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(text),
		chroma.WithNResults(limit),
		chroma.WithWhereQuery(chroma.EqString("account_id", accountID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		account, message, ok := strings.Cut(string(id), ":")
		if !ok {
			continue
		}
		m := Match{AccountID: account, MessageID: message}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			m.Distance = float64(distanceGroups[0][i])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (c *ChromaClient) Delete(ctx context.Context, accountID, messageID string) error {
	if err := c.collection.Delete(ctx, chroma.WithIDsDelete(documentID(accountID, messageID))); err != nil {
		return fmt.Errorf("failed to delete email embedding: %w", err)
	}
	return nil
}
