// Package pipeline wires the job store and the extraction collaborator onto
// the lane scheduler. The qc lane extracts one document per unit and
// registers the result; the summary lane inventories a job's documents.
// Recovery re-enqueues work a previous process left behind.
package pipeline
