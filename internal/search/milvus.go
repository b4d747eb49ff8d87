// milvus.go implements the vector index against a Milvus collection.
package search

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// Collection field names. The obj id doubles as the primary key so a
// vector can be replaced or fetched by obj.
const (
	fieldObjID     = "obj_id"
	fieldEmbedding = "embedding"
	fieldRedshift  = "redshift"
	fieldClass     = "class"
)

const (
	objIDMaxLength = 64 // matches the datastore obj id column
	classMaxLength = 128
	indexNlist     = 128
	searchNProbe   = 10
)

// milvusIndex implements vectorIndex on a milvus-sdk-go client.
type milvusIndex struct {
	client     client.Client
	collection string
	dimensions int
}

// newMilvusIndex connects to Milvus and makes sure the summary collection
// exists, is indexed and is loaded.
func newMilvusIndex(ctx context.Context, settings conf.MilvusSettings) (*milvusIndex, error) {
	c, err := client.NewClient(ctx, client.Config{Address: settings.Address})
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategorySearch).
			Context("operation", "connect").
			Context("address", settings.Address).
			Build()
	}

	index := &milvusIndex{
		client:     c,
		collection: settings.Collection,
		dimensions: settings.Dimensions,
	}
	if err := index.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return index, nil
}

func (x *milvusIndex) ensureCollection(ctx context.Context) error {
	exists, err := x.client.HasCollection(ctx, x.collection)
	if err != nil {
		return x.wrap(err, "has_collection")
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(x.collection).
			WithDescription("source summary embeddings").
			WithField(entity.NewField().
				WithName(fieldObjID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(objIDMaxLength).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(fieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(x.dimensions))).
			WithField(entity.NewField().
				WithName(fieldRedshift).
				WithDataType(entity.FieldTypeDouble)).
			WithField(entity.NewField().
				WithName(fieldClass).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(classMaxLength))
		if err := x.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return x.wrap(err, "create_collection")
		}

		index, err := entity.NewIndexIvfFlat(entity.IP, indexNlist)
		if err != nil {
			return x.wrap(err, "build_index")
		}
		if err := x.client.CreateIndex(ctx, x.collection, fieldEmbedding, index, false); err != nil {
			return x.wrap(err, "create_index")
		}
		serviceLogger.Info("created summary vector collection",
			"collection", x.collection, "dimensions", x.dimensions)
	}

	if err := x.client.LoadCollection(ctx, x.collection, false); err != nil {
		return x.wrap(err, "load_collection")
	}
	return nil
}

// Search runs a top-k inner product search and decodes the obj id, score
// and scalar metadata of every hit.
func (x *milvusIndex) Search(ctx context.Context, vector []float32, k int, expr string) ([]searchMatch, error) {
	params, err := entity.NewIndexIvfFlatSearchParam(searchNProbe)
	if err != nil {
		return nil, x.wrap(err, "search_params")
	}

	results, err := x.client.Search(ctx, x.collection, nil, expr,
		[]string{fieldRedshift, fieldClass},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding, entity.IP, k, params)
	if err != nil {
		return nil, x.wrap(err, "search")
	}

	matches := make([]searchMatch, 0, k)
	for _, result := range results {
		var redshiftCol, classCol entity.Column
		for _, col := range result.Fields {
			switch col.Name() {
			case fieldRedshift:
				redshiftCol = col
			case fieldClass:
				classCol = col
			}
		}

		for i := 0; i < result.ResultCount; i++ {
			objID, err := result.IDs.GetAsString(i)
			if err != nil {
				return nil, x.wrap(err, "decode_ids")
			}
			match := searchMatch{ObjID: objID, Score: result.Scores[i]}
			if redshiftCol != nil {
				if v, err := redshiftCol.GetAsDouble(i); err == nil {
					match.Redshift = v
				}
			}
			if classCol != nil {
				if v, err := classCol.GetAsString(i); err == nil {
					match.Class = v
				}
			}
			matches = append(matches, match)
		}
	}
	return matches, nil
}

// Fetch returns the stored summary vector of an obj, or a not-found error
// when the obj has never been indexed.
func (x *milvusIndex) Fetch(ctx context.Context, objID string) ([]float32, error) {
	resultSet, err := x.client.Query(ctx, x.collection, nil, objIDExpr(objID), []string{fieldEmbedding})
	if err != nil {
		return nil, x.wrap(err, "fetch_vector")
	}

	for _, col := range resultSet {
		if col.Name() != fieldEmbedding {
			continue
		}
		vectors, ok := col.(*entity.ColumnFloatVector)
		if !ok {
			continue
		}
		if data := vectors.Data(); len(data) > 0 {
			return data[0], nil
		}
	}

	return nil, errors.Newf("obj %q has no summary vector", objID).
		Component(componentName).
		Category(errors.CategoryNotFound).
		Context("operation", "fetch_vector").
		Build()
}

// Insert stores one vector row. Callers remove any previous row first.
func (x *milvusIndex) Insert(ctx context.Context, rec indexRecord) error {
	_, err := x.client.Insert(ctx, x.collection, "",
		entity.NewColumnVarChar(fieldObjID, []string{rec.ObjID}),
		entity.NewColumnFloatVector(fieldEmbedding, len(rec.Embedding), [][]float32{rec.Embedding}),
		entity.NewColumnDouble(fieldRedshift, []float64{rec.Redshift}),
		entity.NewColumnVarChar(fieldClass, []string{rec.Class}),
	)
	if err != nil {
		return x.wrap(err, "insert")
	}
	return nil
}

// Remove deletes the vector row of an obj. Removing an obj that was never
// indexed is not an error.
func (x *milvusIndex) Remove(ctx context.Context, objID string) error {
	if err := x.client.Delete(ctx, x.collection, "", objIDExpr(objID)); err != nil {
		return x.wrap(err, "delete")
	}
	return nil
}

// Ping verifies the Milvus connection is still serving requests.
func (x *milvusIndex) Ping(ctx context.Context) error {
	if _, err := x.client.HasCollection(ctx, x.collection); err != nil {
		return x.wrap(err, "ping")
	}
	return nil
}

// Close releases the Milvus connection.
func (x *milvusIndex) Close() error {
	return x.client.Close()
}

func objIDExpr(objID string) string {
	return fmt.Sprintf("%s == %s", fieldObjID, strconv.Quote(objID))
}

func (x *milvusIndex) wrap(err error, operation string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategorySearch).
		Context("operation", operation).
		Context("collection", x.collection).
		Build()
}
