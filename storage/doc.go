// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the storage abstraction layer for maildex.
//
// The EmailRepository interface decouples the ingestion pipeline from the
// backend that holds emails and their sections. Two backends exist:
//
//   - storage/sqlite: relational tables with a sqlite-vec embedding column
//   - storage/badger: embedded key-value store, optionally encrypted
//
// # Constructor Return Type Pattern
//
// Public constructors return the storage.EmailRepository interface:
//
//	repo, err := sqlite.NewRepository("/var/lib/maildex/mail.db", 1536)
//	repo, err := badger.NewMemoryRepository(1536)
//
// # Write Model
//
// Sections reference their email by ID and carry a 1-based order that is unique
// per email. Writes are not grouped into a transaction spanning the email and its
// sections: an email may exist with only a prefix of its sections, and the
// email's IngestStatus records whether ingestion finished.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
