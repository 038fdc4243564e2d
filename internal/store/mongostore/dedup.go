package mongostore

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
)

func filterDoc(filter []store.Condition) bson.M {
	m := bson.M{}
	for _, c := range filter {
		switch c.Op {
		case store.OpEq:
			m[c.Field] = c.Value
		case store.OpNe:
			m[c.Field] = bson.M{"$ne": c.Value}
		}
	}
	return m
}

func (s *Store) Stamp(ctx context.Context, collection string, filter []store.Condition, token string) (int64, error) {
	res, err := s.db.Collection(collection).UpdateMany(ctx, filterDoc(filter),
		bson.M{"$set": bson.M{store.FieldProcessToken: token}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// groupPipeline builds the aggregation selecting the newest _id per group.
func groupPipeline(token string, spec store.GroupSpec) mongo.Pipeline {
	match := filterDoc(spec.Filter)
	match[store.FieldProcessToken] = token

	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}
	for _, t := range spec.Transform {
		pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: bson.M{
			t.As: bson.M{"$sortArray": bson.M{"input": "$" + t.Source, "sortBy": 1}},
		}}})
	}

	groupID := bson.D{}
	for _, k := range spec.Keys {
		// 分组键名不能包含点号
		groupID = append(groupID, bson.E{Key: strings.ReplaceAll(k, ".", ""), Value: "$" + k})
	}
	return append(pipeline,
		bson.D{{Key: "$sort", Value: bson.M{store.FieldID: -1}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":      groupID,
			"latestId": bson.M{"$first": "$_id"},
		}}},
		bson.D{{Key: "$project", Value: bson.M{"_id": 0, "latestId": 1}}},
	)
}

func (s *Store) LatestIDs(ctx context.Context, collection, token string, spec store.GroupSpec) ([]primitive.ObjectID, error) {
	cur, err := s.db.Collection(collection).Aggregate(ctx, groupPipeline(token, spec),
		options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var row struct {
			LatestID primitive.ObjectID `bson:"latestId"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.LatestID)
	}
	return ids, cur.Err()
}

func (s *Store) MarkLatest(ctx context.Context, collection string, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.Collection(collection).UpdateMany(ctx,
		bson.M{store.FieldID: bson.M{"$in": ids}},
		bson.M{"$set": bson.M{store.FieldLatest: true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) Sweep(ctx context.Context, collection, token string) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.M{
		store.FieldProcessToken: token,
		store.FieldLatest:       bson.M{"$ne": true},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) ClearMarks(ctx context.Context, collection, token string) error {
	_, err := s.db.Collection(collection).UpdateMany(ctx,
		bson.M{store.FieldProcessToken: token},
		bson.M{"$unset": bson.M{store.FieldProcessToken: "", store.FieldLatest: ""}})
	return err
}
