// Package mailbox reads mbox files and turns each message into an ingestion
// payload with the same shape the HTTP endpoint accepts.
package mailbox
