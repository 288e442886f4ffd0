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


package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Domain validation errors
var (
	// ErrInvalidEmail indicates an inbound payload failed the email shape contract.
	ErrInvalidEmail = errors.New("invalid email data")

	// ErrInvalidSection indicates an EmailSection failed validation.
	ErrInvalidSection = errors.New("invalid email section")

	// ErrEmptyEmbedding indicates a section has no embedding vector.
	ErrEmptyEmbedding = errors.New("embedding cannot be empty")

	// ErrInvalidSectionOrder indicates a section order below 1.
	ErrInvalidSectionOrder = errors.New("section order must be 1 or greater")

	// ErrMissingEmailID indicates a section without an owning email.
	ErrMissingEmailID = errors.New("section must reference an email")
)

// ValidationError reports which fields of a payload are missing or malformed.
// It is the only failure that guarantees nothing was written to the store.
type ValidationError struct {
	// Fields maps a field name to human-readable reasons.
	Fields map[string][]string
}

// Error lists the offending fields in a stable order.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], ", ")))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidEmail, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrInvalidEmail) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEmail
}

// add records a reason for a field.
func (e *ValidationError) add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], reason)
}
