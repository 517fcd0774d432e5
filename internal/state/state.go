package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/objective"
)

// #region extract
// Extract builds the state for an artifact. Analysis keys are copied into
// the features first so the intrinsic features always win on collision.
func Extract(a artifact.Artifact, obj objective.Objective, analysis artifact.Analysis, iteration int) State {
	features := make(artifact.Analysis, len(analysis)+5)
	for k, v := range analysis {
		features[k] = v
	}
	features[FeatureOutputType] = string(a.Kind())
	features[FeatureOutputLength] = a.Len()
	features[FeatureIsEmpty] = a.IsEmpty()
	features[FeatureHasConstraints] = obj.HasConstraints()
	features[FeatureConstraintCount] = obj.ConstraintCount()

	return State{
		ObjectiveHash: Hash(obj),
		OutputHash:    Hash(a.Value()),
		Features:      features,
		Metadata: Metadata{
			Iteration: iteration,
			Timestamp: time.Now().UTC(),
		},
	}
}
// #endregion extract

// #region key
// Key hashes the identity-bearing parts of the state. Iteration and
// timestamp are excluded so identical artifacts map to one entry.
func (s State) Key() string {
	length, _ := s.Features.Int(FeatureOutputLength)
	return Hash(map[string]any{
		"objective":    s.ObjectiveHash,
		"output":       s.OutputHash,
		"outputLength": length,
		"isEmpty":      s.Features.Bool(FeatureIsEmpty),
	})
}
// #endregion key

// #region hash
// Hash returns the first 16 hex characters of the xxhash64 digest of v's
// canonical JSON form. Map keys are sorted by encoding/json, and structs are
// routed through a generic decode so field order never matters either.
func Hash(v any) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(canonicalJSON(v)))
}

func canonicalJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%#v", v))
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}
// #endregion hash
