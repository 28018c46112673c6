// Package mongodb implements the run-report history store.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
)

const (
	collectionRuns = "ingest_runs"

	// Per-message results are compressed above this size; the counters
	// stay queryable as plain fields either way.
	messagesCompressionThreshold = 512

	runRetention = 90 * 24 * time.Hour
)

// ReportAdapter implements out.ReportRepository on MongoDB.
type ReportAdapter struct {
	collection *mongo.Collection
}

// NewReportAdapter creates a run-report adapter.
func NewReportAdapter(db *mongo.Database) *ReportAdapter {
	return &ReportAdapter{collection: db.Collection(collectionRuns)}
}

// EnsureIndexes creates the collection's indexes.
func (a *ReportAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// runDocument is the MongoDB document for one ingestion run.
type runDocument struct {
	RunID      string    `bson:"run_id"`
	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at"`

	Fetched   int `bson:"fetched"`
	Persisted int `bson:"persisted"`
	Skipped   int `bson:"skipped"`
	Rejected  int `bson:"rejected"`
	Errors    int `bson:"errors"`

	Aborted    bool   `bson:"aborted"`
	AbortCause string `bson:"abort_cause,omitempty"`

	// Per-message results as JSON, gzip-compressed above threshold.
	Messages           []byte `bson:"messages,omitempty"`
	MessagesCompressed bool   `bson:"messages_compressed"`

	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// SaveRunSummary upserts the summary keyed by run id.
func (a *ReportAdapter) SaveRunSummary(ctx context.Context, s *domain.RunSummary) error {
	doc, err := toDocument(s)
	if err != nil {
		return fmt.Errorf("failed to convert run summary: %w", err)
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"run_id": s.RunID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// ListRecentRuns returns the newest runs first.
func (a *ReportAdapter) ListRecentRuns(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*domain.RunSummary
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		s, err := toSummary(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert run %s: %w", doc.RunID, err)
		}
		runs = append(runs, s)
	}
	return runs, cursor.Err()
}

func toDocument(s *domain.RunSummary) (*runDocument, error) {
	doc := &runDocument{
		RunID:      s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Fetched:    s.Fetched,
		Persisted:  s.Persisted,
		Skipped:    s.Skipped,
		Rejected:   s.Rejected,
		Errors:     s.Errors,
		Aborted:    s.Aborted,
		AbortCause: s.AbortCause,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(runRetention),
	}

	if len(s.Messages) > 0 {
		raw, err := json.Marshal(s.Messages)
		if err != nil {
			return nil, err
		}
		doc.Messages = raw
		if len(raw) > messagesCompressionThreshold {
			compressed, err := gzipBytes(raw)
			if err != nil {
				return nil, err
			}
			doc.Messages = compressed
			doc.MessagesCompressed = true
		}
	}
	return doc, nil
}

func toSummary(doc *runDocument) (*domain.RunSummary, error) {
	s := &domain.RunSummary{
		RunID:      doc.RunID,
		StartedAt:  doc.StartedAt,
		FinishedAt: doc.FinishedAt,
		Fetched:    doc.Fetched,
		Persisted:  doc.Persisted,
		Skipped:    doc.Skipped,
		Rejected:   doc.Rejected,
		Errors:     doc.Errors,
		Aborted:    doc.Aborted,
		AbortCause: doc.AbortCause,
	}

	if len(doc.Messages) > 0 {
		raw := doc.Messages
		if doc.MessagesCompressed {
			var err error
			raw, err = gunzipBytes(raw)
			if err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal(raw, &s.Messages); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var _ out.ReportRepository = (*ReportAdapter)(nil)
