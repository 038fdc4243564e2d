package memstore

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
)

// Insert appends a document to a result collection, assigning an _id when
// the document has none.
func (s *Store) Insert(collection string, doc bson.M) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := doc[store.FieldID].(primitive.ObjectID)
	if !ok {
		id = primitive.NewObjectID()
	}
	c := bson.M{}
	for k, v := range doc {
		c[k] = v
	}
	c[store.FieldID] = id
	s.docs[collection] = append(s.docs[collection], c)
	return id
}

// Documents returns a snapshot of a result collection.
func (s *Store) Documents(collection string) []bson.M {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bson.M, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		c := bson.M{}
		for k, v := range d {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

func (s *Store) Stamp(ctx context.Context, collection string, filter []store.Condition, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.docs[collection] {
		if matches(d, filter) {
			d[store.FieldProcessToken] = token
			n++
		}
	}
	return n, nil
}

func (s *Store) LatestIDs(ctx context.Context, collection, token string, spec store.GroupSpec) ([]primitive.ObjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]primitive.ObjectID)
	var order []string
	for _, d := range s.docs[collection] {
		if d[store.FieldProcessToken] != token || !matches(d, spec.Filter) {
			continue
		}
		view := withSortedCopies(d, spec.Transform)
		tuple := make([]any, len(spec.Keys))
		for i, k := range spec.Keys {
			tuple[i], _ = lookup(view, k)
		}
		key, err := sonic.MarshalString(tuple)
		if err != nil {
			return nil, fmt.Errorf("encode group key: %w", err)
		}
		id := d[store.FieldID].(primitive.ObjectID)
		cur, seen := latest[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || bytes.Compare(id[:], cur[:]) > 0 {
			latest[key] = id
		}
	}

	out := make([]primitive.ObjectID, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out, nil
}

func (s *Store) MarkLatest(ctx context.Context, collection string, ids []primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var n int64
	for _, d := range s.docs[collection] {
		if _, ok := want[d[store.FieldID].(primitive.ObjectID)]; ok {
			d[store.FieldLatest] = true
			n++
		}
	}
	return n, nil
}

func (s *Store) Sweep(ctx context.Context, collection, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.docs[collection][:0]
	var n int64
	for _, d := range s.docs[collection] {
		if d[store.FieldProcessToken] == token && d[store.FieldLatest] != true {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.docs[collection] = kept
	return n, nil
}

func (s *Store) ClearMarks(ctx context.Context, collection, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs[collection] {
		if d[store.FieldProcessToken] == token {
			delete(d, store.FieldProcessToken)
			delete(d, store.FieldLatest)
		}
	}
	return nil
}

// lookup resolves a dotted path through nested documents.
func lookup(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

// matches mirrors mongo semantics for equality filters: $ne also matches
// documents where the field is missing.
func matches(doc bson.M, filter []store.Condition) bool {
	for _, c := range filter {
		v, ok := lookup(doc, c.Field)
		eq := ok && reflect.DeepEqual(v, c.Value)
		switch c.Op {
		case store.OpEq:
			if !eq {
				return false
			}
		case store.OpNe:
			if eq {
				return false
			}
		}
	}
	return true
}

func withSortedCopies(doc bson.M, transforms []store.SortedCopy) bson.M {
	if len(transforms) == 0 {
		return doc
	}
	view := bson.M{}
	for k, v := range doc {
		view[k] = v
	}
	for _, t := range transforms {
		src, _ := lookup(doc, t.Source)
		view[t.As] = sortedCopy(src)
	}
	return view
}

func sortedCopy(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return v
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func less(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return fa < fb
	case aNum != bNum:
		// numbers sort before strings, as in BSON order
		return aNum
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
