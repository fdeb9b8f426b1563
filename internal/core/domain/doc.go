// Package domain defines the entity model of the checkpointing engine.
//
// Domain models carry no IO dependencies. This package contains:
//
//   - Entity: the tagged variant covering definitions and instances
//   - Kind: the entity kind tag and its checkpoint category
//   - Errors: coded domain errors and the entity/aggregate error types
package domain
