// Package mongo archives checkpoint trails and final responses in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection configuration.
type Config struct {
	URI                  string `yaml:"uri"`
	Database             string `yaml:"database"`
	CheckpointCollection string `yaml:"checkpoint_collection"`
	ResponseCollection   string `yaml:"response_collection"`
}

func DefaultConfig() Config {
	return Config{
		URI:                  "mongodb://localhost:27017",
		Database:             "lexcrag",
		CheckpointCollection: "checkpoints",
		ResponseCollection:   "responses",
	}
}

// Archive implements observability.Recorder and observability.ResponseArchiver.
type Archive struct {
	client      *mongo.Client
	checkpoints *mongo.Collection
	responses   *mongo.Collection
}

var (
	_ observability.Recorder         = (*Archive)(nil)
	_ observability.ResponseArchiver = (*Archive)(nil)
)

type responseDoc struct {
	RunID     string               `bson:"_id"`
	QueryID   string               `bson:"query_id"`
	Response  *legal.FinalResponse `bson:"response"`
	Status    string               `bson:"status"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	def := DefaultConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.CheckpointCollection == "" {
		cfg.CheckpointCollection = def.CheckpointCollection
	}
	if cfg.ResponseCollection == "" {
		cfg.ResponseCollection = def.ResponseCollection
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	a := &Archive{
		client:      client,
		checkpoints: db.Collection(cfg.CheckpointCollection),
		responses:   db.Collection(cfg.ResponseCollection),
	}
	if err := a.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return a, nil
}

func (a *Archive) createIndexes(ctx context.Context) error {
	_, err := a.checkpoints.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "at", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = a.responses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "query_id", Value: 1}},
	})
	return err
}

func (a *Archive) Record(ctx context.Context, cp observability.Checkpoint) error {
	if _, err := a.checkpoints.InsertOne(ctx, cp); err != nil {
		return fmt.Errorf("archive checkpoint %s: %w", cp.Name, err)
	}
	return nil
}

// SaveResponse upserts the final response of a run.
func (a *Archive) SaveResponse(ctx context.Context, runID string, resp *legal.FinalResponse) error {
	if resp == nil {
		return nil
	}
	if runID == "" {
		runID = resp.QueryID
	}
	doc := responseDoc{
		RunID:     runID,
		QueryID:   resp.QueryID,
		Response:  resp,
		Status:    string(resp.Status),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := a.responses.ReplaceOne(ctx, bson.M{"_id": runID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive response: %w", err)
	}
	return nil
}

// Trail returns the checkpoints of a run in emission order.
func (a *Archive) Trail(ctx context.Context, runID string) ([]observability.Checkpoint, error) {
	cur, err := a.checkpoints.Find(ctx, bson.M{"run_id": runID}, options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find trail: %w", err)
	}
	defer cur.Close(ctx)

	var out []observability.Checkpoint
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode trail: %w", err)
	}
	return out, nil
}

// Response loads the archived final response of a run.
func (a *Archive) Response(ctx context.Context, runID string) (*legal.FinalResponse, error) {
	var doc responseDoc
	if err := a.responses.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("find response: %w", err)
	}
	return doc.Response, nil
}

func (a *Archive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
