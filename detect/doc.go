// Package detect turns a flood of chat messages into a small number of
// high-confidence participation-command candidates.
//
// It provides:
//   - Normalize: collapses visually-identical spam variants (diacritics,
//     invisible characters, casing, whitespace) to a single key.
//   - StatStore: per-channel, per-message sliding-window counts of
//     observations and distinct contributors.
//   - Detector: the streaming classifier. On each message it updates the stat
//     store, then tries the known-command fast path, the learned-command
//     registry, and finally entropy/shape heuristics for unknown tokens.
//   - Dispatcher: a per-channel worker loop so messages for one channel are
//     processed in arrival order while channels proceed in parallel.
//
// The detector never performs I/O; all classification is in-memory so it can
// keep up with many channels on one connection.
package detect
