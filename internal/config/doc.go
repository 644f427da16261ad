// Package config loads the engine configuration.
//
// Transition graphs, capability grants, actors, variance thresholds and
// escalation policies are written in CUE, checked against the embedded
// #Config schema and converted into the types the workflow engine consumes.
// A default concrete-plant configuration is embedded and returned by Default.
package config
