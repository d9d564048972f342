// Package stage implements the incremental query pipeline: a chain of stages that push
// insert and remove deltas from stream sources to an output sink. Each stage maintains
// just enough state to translate upstream deltas into downstream deltas, so a query
// result is kept current at O(|changes|) cost rather than recomputed per event.
//
// Key components:
//   - Stage: Interface every pipeline element implements (Insert, Remove, InsertRemove).
//   - Select: Compiles a parsed query into a stage chain; itself a Stage, so sub-queries
//     and unions compose recursively.
//   - Listener: Subscribes a pipeline to a named source stream.
//   - Minifier: Prunes records down to the properties the query actually reads.
//   - LengthRepeater, TimeRepeater: Sliding windows that synthesize the remove half of
//     each windowed insert.
//   - Join, Filter, Aggregation, Projection, Distinct, Limit: Relational operators in
//     delta form.
//   - Output: Terminal stage fanning results out to registered consumers.
//
// The balance invariant holds across every stage: each record a stage emits as a net
// insert is eventually matched by a corresponding remove, either propagated from
// upstream or synthesized by a window. Aggregation additionally suppresses no-op
// updates, so a group whose rendered row is unchanged emits nothing.
//
// Example usage:
//
//	ctx := stage.NewEnv(registry, logger)
//	sel, err := stage.NewSelect(ctx, q)
//	sel.Pass(sink) // sink receives the query's result deltas
package stage
