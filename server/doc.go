// Package server exposes the ingestion pipeline over HTTP.
//
// Routes:
//
//	POST /api/store-email         validate, chunk, embed and store one email
//	GET  /api/emails/{id}         ingestion status of a stored email
//	POST /api/emails/{id}/resume  continue an incomplete ingestion
//	GET  /health                  liveness
//
// Validation failures answer 400 with per-field details. Any other failure
// answers 500; when the email row was already created the body carries its
// email_id and the 1-based failed_section.
package server
