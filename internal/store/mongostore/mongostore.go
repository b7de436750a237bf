// Package mongostore is the durable Persistence Repository implementation:
// a unique index on server_instances.server_id, a compound index on
// (server_id, timestamp) for logs, and a best-effort capped collection for
// server_logs so log retention stays bounded without an explicit TTL sweep.
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/fluidmcp/gateway/internal/model"
	"github.com/fluidmcp/gateway/internal/store"
)

const (
	// DefaultTimeout bounds a single Mongo operation.
	DefaultTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds the initial connection handshake.
	DefaultConnectTimeout = 10 * time.Second
	// defaultCappedLogBytes sizes the server_logs capped collection when one
	// doesn't already exist.
	defaultCappedLogBytes = 64 * 1024 * 1024
	defaultCappedLogDocs  = 200000
)

// Store is the mongo-driver-backed Repository. Log writes go through a
// store.RetryBuffer so a transient Mongo outage never blocks a tool call's
// logging path.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	servers   *mongo.Collection
	instances *mongo.Collection
	logs      *mongo.Collection
	models    *mongo.Collection

	logBuf *store.RetryBuffer
}

// Connect dials uri, selects database dbName, ensures indexes/collections
// exist, and returns a ready Store. maxMemoryLogs bounds the retry buffer
// used to shield AppendLog callers from transient write failures.
func Connect(ctx context.Context, uri, dbName string, maxMemoryLogs int) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetConnectTimeout(DefaultConnectTimeout)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:    client,
		db:        db,
		servers:   db.Collection("servers"),
		instances: db.Collection("server_instances"),
		logs:      db.Collection("server_logs"),
		models:    db.Collection("llm_models"),
	}
	s.logBuf = store.NewRetryBuffer(directLogRepo{s}, maxMemoryLogs)

	if err := s.ensureSchema(ctx); err != nil {
		log.Printf("[Repository] schema setup warning: %v", err)
	}
	go s.flushLogBufferLoop()
	return s, nil
}

// flushLogBufferLoop periodically retries any log entries queued while Mongo
// was unreachable, so a transient outage doesn't leave them stranded until
// the next AppendLog call happens to succeed.
func (s *Store) flushLogBufferLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		s.logBuf.Flush(ctx)
		cancel()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, err := s.instances.Indexes().CreateOne(setupCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "server_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("index server_instances.server_id: %w", err)
	}

	_, err = s.logs.Indexes().CreateOne(setupCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "server_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("index server_logs (server_id, timestamp): %w", err)
	}

	// Best-effort: a capped collection can only be created once, before any
	// documents exist. If server_logs already exists as a plain collection
	// (e.g. from an older deployment), this simply fails and is logged.
	err = s.db.CreateCollection(setupCtx, "server_logs",
		options.CreateCollection().SetCapped(true).
			SetSizeInBytes(defaultCappedLogBytes).
			SetMaxDocuments(defaultCappedLogDocs))
	if err != nil {
		log.Printf("[Repository] server_logs capped-collection setup skipped: %v", err)
	}

	return nil
}

// Close disconnects the underlying Mongo client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type directLogRepo struct{ s *Store }

func (d directLogRepo) AppendLog(ctx context.Context, entry model.LogEntry) error {
	return d.s.appendLogDirect(ctx, entry)
}
func (d directLogRepo) TailLogs(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	return d.s.tailLogsDirect(ctx, serverID, n)
}

// --- ServerRepo ---

// SaveServer upserts cfg in the nested storage shape, preserving created_at
// on updates via $setOnInsert.
func (s *Store) SaveServer(ctx context.Context, cfg model.ServerConfig) error {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	doc := store.ToStorageDoc(cfg)
	setDoc, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("mongostore: marshal server %q: %w", cfg.ID, err)
	}
	var setRaw bson.M
	if err := bson.Unmarshal(setDoc, &setRaw); err != nil {
		return fmt.Errorf("mongostore: marshal server %q: %w", cfg.ID, err)
	}
	delete(setRaw, "created_at")

	update := bson.M{
		"$set":         setRaw,
		"$setOnInsert": bson.M{"created_at": firstNonZero(cfg.CreatedAt)},
	}
	_, err = s.servers.UpdateOne(opCtx, bson.M{"_id": cfg.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: save server %q: %w", cfg.ID, err)
	}
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (model.ServerConfig, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var doc store.ServerDoc
	err := s.servers.FindOne(opCtx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.ServerConfig{}, store.ErrNotFound
	}
	if err != nil {
		return model.ServerConfig{}, fmt.Errorf("mongostore: get server %q: %w", id, err)
	}
	return store.FromStorageDoc(doc), nil
}

func (s *Store) ListServers(ctx context.Context, enabledOnly bool) ([]model.ServerConfig, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	filter := bson.M{}
	if enabledOnly {
		filter["enabled"] = true
	}
	cur, err := s.servers.Find(opCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list servers: %w", err)
	}
	defer cur.Close(opCtx)

	var out []model.ServerConfig
	for cur.Next(opCtx) {
		var doc store.ServerDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode server: %w", err)
		}
		out = append(out, store.FromStorageDoc(doc))
	}
	return out, cur.Err()
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	res, err := s.servers.DeleteOne(opCtx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongostore: delete server %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- InstanceRepo ---

// SaveInstance upserts inst, conditioning the write on the stored pid still
// matching expectedPID when provided -- the check-and-set that prevents a
// stale writer from a crashed child clobbering a freshly restarted one.
func (s *Store) SaveInstance(ctx context.Context, inst model.ServerInstance, expectedPID *int) error {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	filter := bson.M{"server_id": inst.ServerID}
	if expectedPID != nil {
		filter["pid"] = *expectedPID
	}

	update := bson.M{"$set": inst}
	res, err := s.instances.UpdateOne(opCtx, filter, update, options.Update().SetUpsert(expectedPID == nil))
	if err != nil {
		return fmt.Errorf("mongostore: save instance %q: %w", inst.ServerID, err)
	}
	if expectedPID != nil && res.MatchedCount == 0 && res.UpsertedCount == 0 {
		// Stale writer lost the race; this is expected, not an error.
		return nil
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, serverID string) (model.ServerInstance, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var inst model.ServerInstance
	err := s.instances.FindOne(opCtx, bson.M{"server_id": serverID}).Decode(&inst)
	if err == mongo.ErrNoDocuments {
		return model.ServerInstance{}, store.ErrNotFound
	}
	if err != nil {
		return model.ServerInstance{}, fmt.Errorf("mongostore: get instance %q: %w", serverID, err)
	}
	return inst, nil
}

// --- LogRepo (buffered through RetryBuffer) ---

func (s *Store) AppendLog(ctx context.Context, entry model.LogEntry) error {
	return s.logBuf.AppendLog(ctx, entry)
}

func (s *Store) TailLogs(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	return s.logBuf.TailLogs(ctx, serverID, n)
}

func (s *Store) appendLogDirect(ctx context.Context, entry model.LogEntry) error {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	_, err := s.logs.InsertOne(opCtx, entry)
	if err != nil {
		return fmt.Errorf("mongostore: append log: %w", err)
	}
	return nil
}

func (s *Store) tailLogsDirect(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if n <= 0 {
		n = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(n))
	cur, err := s.logs.Find(opCtx, bson.M{"server_id": serverID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: tail logs %q: %w", serverID, err)
	}
	defer cur.Close(opCtx)

	var out []model.LogEntry
	for cur.Next(opCtx) {
		var e model.LogEntry
		if err := cur.Decode(&e); err != nil {
			return nil, fmt.Errorf("mongostore: decode log entry: %w", err)
		}
		out = append(out, e)
	}
	// Find sorted newest-first for the limit; callers expect oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, cur.Err()
}

// --- ModelRepo ---

func (s *Store) SaveModel(ctx context.Context, m model.LLMModel) error {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1

	_, err := s.models.InsertOne(opCtx, m)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("mongostore: save model %q: %w", m.ModelID, err)
	}
	return nil
}

func (s *Store) GetModel(ctx context.Context, modelID string) (model.LLMModel, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var m model.LLMModel
	err := s.models.FindOne(opCtx, bson.M{"_id": modelID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return model.LLMModel{}, store.ErrNotFound
	}
	if err != nil {
		return model.LLMModel{}, fmt.Errorf("mongostore: get model %q: %w", modelID, err)
	}
	return m, nil
}

func (s *Store) ListModels(ctx context.Context, typeFilter model.LLMModelType) ([]model.LLMModel, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	filter := bson.M{}
	if typeFilter != "" {
		filter["type"] = typeFilter
	}
	cur, err := s.models.Find(opCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list models: %w", err)
	}
	defer cur.Close(opCtx)

	var out []model.LLMModel
	if err := cur.All(opCtx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: decode models: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateModel(ctx context.Context, modelID string, patch func(*model.LLMModel)) error {
	existing, err := s.GetModel(ctx, modelID)
	if err != nil {
		return err
	}
	patch(&existing)
	existing.ModelID = modelID
	existing.UpdatedAt = time.Now()
	existing.Version++

	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	_, err = s.models.ReplaceOne(opCtx, bson.M{"_id": modelID}, existing)
	if err != nil {
		return fmt.Errorf("mongostore: update model %q: %w", modelID, err)
	}
	return nil
}

func (s *Store) DeleteModel(ctx context.Context, modelID string) error {
	opCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	res, err := s.models.DeleteOne(opCtx, bson.M{"_id": modelID})
	if err != nil {
		return fmt.Errorf("mongostore: delete model %q: %w", modelID, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Repository (health + buffer stats) ---

func (s *Store) Health(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.client.Ping(opCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongostore: health check: %w", err)
	}
	return nil
}

func (s *Store) LogBufferStats() store.LogBufferStats {
	return s.logBuf.Stats()
}

func firstNonZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var _ store.Repository = (*Store)(nil)
