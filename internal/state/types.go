package state

import (
	"time"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
)

// #region state
// State is the discrete summary of (objective, artifact, iteration) the
// learner keys its Q-values on.
type State struct {
	ObjectiveHash string
	OutputHash    string
	Features      artifact.Analysis
	Metadata      Metadata
}
// #endregion state

// #region metadata
// Metadata is informational only and never contributes to Key.
type Metadata struct {
	Iteration int
	Timestamp time.Time
}
// #endregion metadata

// #region feature-names
const (
	FeatureOutputType      = "outputType"
	FeatureOutputLength    = "outputLength"
	FeatureIsEmpty         = "isEmpty"
	FeatureHasConstraints  = "hasConstraints"
	FeatureConstraintCount = "constraintCount"
)
// #endregion feature-names
