// Package ingestion turns validated emails into stored, embedded sections.
//
// The Pipeline runs each ingestion in strict sequence:
//   - validate the payload
//   - insert the email and obtain its ID
//   - split the body into sections with SplitIntoChunks
//   - embed each section and insert it with its 1-based order
//
// The first failure aborts the remaining sections. Sections already written
// stay in place and the email is marked failed, so Resume can continue from the
// first missing section later. Embedding may be fanned out over a worker pool
// with WithConcurrency; sections are always written in order.
//
// Resume claims the email before writing. A pending email is only taken over
// once it has gone without an update for longer than WithPendingTimeout, so a
// live ingestion is never written to twice.
package ingestion
