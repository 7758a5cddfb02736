package model

// MigrationFlow is a decided movement of people from one city to another
// within a single step. Flows are created by the decision stage, scaled by
// capacity allocation, consumed by execution and feedback, and discarded at
// the end of the step.
type MigrationFlow struct {
	OriginID      string `json:"originId"`
	DestinationID string `json:"destinationId"`
	UnitID        string `json:"unitId"`

	// RawRate is sigmoid(k·ΔA), before distance cost and retention.
	RawRate float64 `json:"rawRate"`

	// Probability is the effective per-person migration probability the
	// migrant count was sampled with.
	Probability float64 `json:"probability"`

	// Decided is the sampled migrant count before capacity scaling.
	Decided int `json:"decided"`

	// Migrants is the count actually admitted (Decided after scaling).
	Migrants int `json:"migrants"`
}
