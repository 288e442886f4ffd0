// Package resume finishes ingestions that stopped part way.
//
// A Resumer walks every email whose status is pending or failed and hands it
// back to the ingestion pipeline, which continues from the first section that
// was not stored. Pending emails whose ingestion is still running are skipped.
// Transient failures are retried with exponential backoff;
// progress is written to an io.Writer as the run proceeds.
package resume
