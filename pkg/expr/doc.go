// Package expr implements the small expression tree used to describe the
// behavior of reactive entities.
//
// The tree has four node kinds: Constant, Parameter, Lambda and Invoke.
// Operators of the query algebra are not interpreted here; they appear as
// free parameters (for example "rx://operators/filter") that an engine binds
// at instantiation time.
//
// Trees can be compared structurally (Equal), serialized to a compact
// canonical binary form (Marshal/Unmarshal) and to JSON (ToJSON/FromJSON),
// and rewritten by parameter substitution (Substitute,
// Apply).
package expr
