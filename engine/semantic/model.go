package semantic

import (
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	Cosine    Distance = "cosine"
	Dot       Distance = "dot"
	Euclidean Distance = "euclid"
)

func (d Distance) proto() (pb.Distance, error) {
	switch Distance(strings.ToLower(string(d))) {
	case Cosine, "":
		return pb.Distance_Cosine, nil
	case Dot:
		return pb.Distance_Dot, nil
	case Euclidean:
		return pb.Distance_Euclid, nil
	}
	return pb.Distance_UnknownDistance, fmt.Errorf("unknown distance %q", string(d))
}

// CollectionSpec describes the collection a VectorStore writes to.
type CollectionSpec struct {
	Name      string
	Dimension int
	Distance  Distance
}

// Query is a nearest-neighbour request. Filter entries are keyword-equality
// conditions on payload fields, all of which must match.
type Query struct {
	Vector         []float32
	Filter         map[string]string
	Limit          int
	ScoreThreshold float32
}

// PointFailure is one point that could not be stored.
type PointFailure struct {
	ID  string
	Err error
}

// UpsertError reports every point that was not stored. Points not listed
// were stored.
type UpsertError struct {
	Failures []PointFailure
}

func (e *UpsertError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID)
	}
	first := ""
	if len(e.Failures) > 0 {
		first = ": " + e.Failures[0].Err.Error()
	}
	return fmt.Sprintf("semantic: upsert failed for %d points [%s]%s", len(e.Failures), strings.Join(ids, ","), first)
}

func (e *UpsertError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// FailedIDs returns the ids of the points that were not stored.
func (e *UpsertError) FailedIDs() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}
	return ids
}
