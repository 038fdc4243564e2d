// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// 集合名称
const (
	collTask           = "task"
	collProject        = "project"
	collProjectTargets = "ProjectTargetData"
	collScheduled      = "ScheduledTasks"
	collPageMonitoring = "PageMonitoring"
	collConfig         = "config"
)

var _ store.Store = (*Store)(nil)

// Store is a MongoDB backed store.Store.
type Store struct {
	db *mongo.Database
}

// New wraps a database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

type jobDoc struct {
	OID                 primitive.ObjectID `bson:"_id"`
	types.JobDefinition `bson:",inline"`
}

func (d *jobDoc) toJob(kind types.JobKind) *types.JobDefinition {
	j := d.JobDefinition
	j.ID = types.JobID(d.OID.Hex())
	j.Kind = kind
	return &j
}

func jobCollection(kind types.JobKind) (string, error) {
	switch kind {
	case types.JobKindTask:
		return collTask, nil
	case types.JobKindProject:
		return collProject, nil
	}
	return "", apperr.Validation("mongostore", "unknown job kind: %s", kind)
}

func (s *Store) GetJob(ctx context.Context, kind types.JobKind, id types.JobID) (*types.JobDefinition, error) {
	coll, err := jobCollection(kind)
	if err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, apperr.NotFound("mongostore.GetJob", "%s not found: %s", kind, id)
	}

	var doc jobDoc
	err = s.db.Collection(coll).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("mongostore.GetJob", "%s not found: %s", kind, id)
	}
	if err != nil {
		return nil, apperr.Transient("mongostore.GetJob", err)
	}
	job := doc.toJob(kind)

	// 项目目标单独存放在 ProjectTargetData
	if kind == types.JobKindProject {
		var targets struct {
			Target string `bson:"target"`
		}
		err := s.db.Collection(collProjectTargets).FindOne(ctx, bson.M{"id": string(id)}).Decode(&targets)
		switch {
		case err == nil:
			job.Target = targets.Target
		case !errors.Is(err, mongo.ErrNoDocuments):
			return nil, apperr.Transient("mongostore.GetJob", err)
		}
	}
	return job, nil
}

func (s *Store) findJobs(ctx context.Context, filter bson.M) ([]*types.JobDefinition, error) {
	cur, err := s.db.Collection(collTask).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []jobDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*types.JobDefinition, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toJob(types.JobKindTask))
	}
	return out, nil
}

func (s *Store) ListUnfinished(ctx context.Context) ([]*types.JobDefinition, error) {
	jobs, err := s.findJobs(ctx, bson.M{"progress": bson.M{"$ne": 100}})
	return jobs, apperr.Transient("mongostore.ListUnfinished", err)
}

func (s *Store) ListAssigned(ctx context.Context, node string) ([]*types.JobDefinition, error) {
	jobs, err := s.findJobs(ctx, bson.M{
		"progress": bson.M{"$ne": 100},
		"status":   1,
		"$or": bson.A{
			bson.M{"node": node},
			bson.M{"allNode": true},
		},
	})
	return jobs, apperr.Transient("mongostore.ListAssigned", err)
}

func (s *Store) SaveProgress(ctx context.Context, kind types.JobKind, id types.JobID, progress float64, endTime string) error {
	coll, err := jobCollection(kind)
	if err != nil {
		return err
	}
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return apperr.NotFound("mongostore.SaveProgress", "%s not found: %s", kind, id)
	}
	set := bson.M{"progress": progress}
	if endTime != "" {
		set["endTime"] = endTime
	}
	return s.updateJob(ctx, "mongostore.SaveProgress", coll, oid, set)
}

func (s *Store) updateJob(ctx context.Context, op, coll string, oid primitive.ObjectID, set bson.M) error {
	res, err := s.db.Collection(coll).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return apperr.Transient(op, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound(op, "%s not found: %s", coll, oid.Hex())
	}
	return nil
}

func (s *Store) ResetJob(ctx context.Context, id types.JobID, createTime string) error {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return apperr.NotFound("mongostore.ResetJob", "task not found: %s", id)
	}
	return s.updateJob(ctx, "mongostore.ResetJob", collTask, oid, resetFields(createTime))
}

// resetFields is the $set document of a retest.
func resetFields(createTime string) bson.M {
	return bson.M{
		"progress":  0,
		"creatTime": createTime,
		"endTime":   "",
		"status":    types.JobStatusRunning,
	}
}

func (s *Store) SetJobStatus(ctx context.Context, id types.JobID, status int) error {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return apperr.NotFound("mongostore.SetJobStatus", "task not found: %s", id)
	}
	return s.updateJob(ctx, "mongostore.SetJobStatus", collTask, oid, bson.M{"status": status})
}

func (s *Store) GetEntry(ctx context.Context, id types.JobID) (*types.ScheduledEntry, error) {
	var e types.ScheduledEntry
	err := s.db.Collection(collScheduled).FindOne(ctx, bson.M{"id": string(id)}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("mongostore.GetEntry", "scheduled entry not found: %s", id)
	}
	if err != nil {
		return nil, apperr.Transient("mongostore.GetEntry", err)
	}
	return &e, nil
}

func (s *Store) ListEnabled(ctx context.Context) ([]*types.ScheduledEntry, error) {
	cur, err := s.db.Collection(collScheduled).Find(ctx, bson.M{"state": true})
	if err != nil {
		return nil, apperr.Transient("mongostore.ListEnabled", err)
	}
	var out []*types.ScheduledEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Transient("mongostore.ListEnabled", err)
	}
	return out, nil
}

func (s *Store) updateEntry(ctx context.Context, op string, id types.JobID, set bson.M) error {
	res, err := s.db.Collection(collScheduled).UpdateOne(ctx, bson.M{"id": string(id)}, bson.M{"$set": set})
	if err != nil {
		return apperr.Transient(op, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound(op, "scheduled entry not found: %s", id)
	}
	return nil
}

func (s *Store) SaveFiring(ctx context.Context, id types.JobID, lastTime, nextTime string, runner types.RunID) error {
	return s.updateEntry(ctx, "mongostore.SaveFiring", id, bson.M{
		"lastTime":  lastTime,
		"nextTime":  nextTime,
		"runner_id": string(runner),
	})
}

func (s *Store) SetEnabled(ctx context.Context, id types.JobID, enabled bool) error {
	return s.updateEntry(ctx, "mongostore.SetEnabled", id, bson.M{"state": enabled})
}

func (s *Store) ListMonitoredPages(ctx context.Context) ([]types.PageMonitorTarget, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 0, "url": 1, "hash": 1, "statusCode": 1, "md5": 1})
	cur, err := s.db.Collection(collPageMonitoring).Find(ctx, bson.M{"state": 1}, opts)
	if err != nil {
		return nil, apperr.Transient("mongostore.ListMonitoredPages", err)
	}
	var out []types.PageMonitorTarget
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Transient("mongostore.ListMonitoredPages", err)
	}
	return out, nil
}

func (s *Store) ProjectIDs(ctx context.Context) (map[string]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1, "name": 1})
	cur, err := s.db.Collection(collProject).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Transient("mongostore.ProjectIDs", err)
	}
	var docs []struct {
		ID   primitive.ObjectID `bson:"_id"`
		Name string             `bson:"name"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperr.Transient("mongostore.ProjectIDs", err)
	}
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.Name] = d.ID.Hex()
	}
	return out, nil
}

func (s *Store) GetDedupSettings(ctx context.Context) (*store.DedupSettings, error) {
	var raw bson.M
	err := s.db.Collection(collConfig).FindOne(ctx, bson.M{"name": "deduplication"}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("mongostore.GetDedupSettings", "deduplication config not found")
	}
	if err != nil {
		return nil, apperr.Transient("mongostore.GetDedupSettings", err)
	}
	return decodeDedupSettings(raw)
}

// decodeDedupSettings reads {name, hour, flag, <collection>: bool, ...}.
func decodeDedupSettings(raw bson.M) (*store.DedupSettings, error) {
	out := &store.DedupSettings{Collections: make(map[string]bool)}
	for k, v := range raw {
		switch k {
		case "_id", "name", "runNow":
		case "hour":
			n, ok := toInt(v)
			if !ok {
				return nil, apperr.Validation("mongostore.GetDedupSettings", "hour must be a number, got %T", v)
			}
			out.Hour = n
		case "flag":
			out.Enabled, _ = v.(bool)
		default:
			if b, ok := v.(bool); ok {
				out.Collections[k] = b
			}
		}
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (s *Store) String() string {
	return fmt.Sprintf("mongostore(%s)", s.db.Name())
}
