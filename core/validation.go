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
	"encoding/json"
	"fmt"
)

// Payload field names accepted by ValidateEmail.
const (
	FieldSubject   = "subject"
	FieldSender    = "sender"
	FieldRecipient = "recipient"
	FieldCC        = "cc"
	FieldBCC       = "bcc"
	FieldBody      = "body"

	// FieldPayload collects reasons that concern the payload as a whole.
	FieldPayload = "_payload"
)

const (
	reasonRequired      = "Required"
	reasonEmptyArray    = "Array must contain at least 1 element(s)"
	reasonExpectedShape = "Expected %s, received %s"
)

// DecodeEmail parses raw JSON and validates it with ValidateEmail.
// Bytes that are not valid JSON are reported as a ValidationError.
func DecodeEmail(data []byte) (*Email, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		verr := &ValidationError{}
		verr.add(FieldPayload, "Invalid JSON: "+err.Error())
		return nil, verr
	}
	return ValidateEmail(payload)
}

// ValidateEmail checks an untyped payload against the email shape and returns a
// normalized Email.
//
// Validation rules:
//   - subject, sender and body must be strings
//   - recipient must be a non-empty array of strings
//   - cc and bcc must be arrays of strings; absent or null means empty
//
// NOT validated:
//   - address syntax
//   - unknown keys (ignored)
//
// All failures are collected into a single *ValidationError.
func ValidateEmail(payload any) (*Email, error) {
	if email, ok := payload.(*Email); ok {
		return ValidateTypedEmail(email)
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		verr := &ValidationError{}
		verr.add(FieldPayload, fmt.Sprintf(reasonExpectedShape, "object", typeName(payload)))
		return nil, verr
	}

	verr := &ValidationError{}
	email := &Email{
		Subject:    requireString(obj, FieldSubject, verr),
		Sender:     requireString(obj, FieldSender, verr),
		Recipients: requireStrings(obj, FieldRecipient, false, verr),
		CC:         requireStrings(obj, FieldCC, true, verr),
		BCC:        requireStrings(obj, FieldBCC, true, verr),
		Body:       requireString(obj, FieldBody, verr),
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return email, nil
}

// ValidateTypedEmail applies the structural contract to an already typed Email.
// Only the recipient rule can fail; nil CC/BCC are normalized to empty lists.
func ValidateTypedEmail(email *Email) (*Email, error) {
	if email == nil {
		verr := &ValidationError{}
		verr.add(FieldPayload, reasonRequired)
		return nil, verr
	}
	if len(email.Recipients) == 0 {
		verr := &ValidationError{}
		verr.add(FieldRecipient, reasonEmptyArray)
		return nil, verr
	}

	normalized := *email
	if normalized.CC == nil {
		normalized.CC = []string{}
	}
	if normalized.BCC == nil {
		normalized.BCC = []string{}
	}
	return &normalized, nil
}

// ValidateSection validates an EmailSection before it is persisted.
//
// Validation rules:
//   - EmailId must be set
//   - Order must be 1 or greater
//   - Embedding must not be empty
//
// Content may be empty only in the sense that the chunker never produces it.
func ValidateSection(section *EmailSection) error {
	if section == nil {
		return fmt.Errorf("%w: section is nil", ErrInvalidSection)
	}
	if section.EmailId == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSection, ErrMissingEmailID)
	}
	if section.Order < 1 {
		return fmt.Errorf("%w: %w", ErrInvalidSection, ErrInvalidSectionOrder)
	}
	if len(section.Embedding) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSection, ErrEmptyEmbedding)
	}
	return nil
}

func requireString(obj map[string]any, field string, verr *ValidationError) string {
	raw, present := obj[field]
	if !present {
		verr.add(field, reasonRequired)
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		verr.add(field, fmt.Sprintf(reasonExpectedShape, "string", typeName(raw)))
		return ""
	}
	return s
}

// requireStrings reads an array of strings. Optional fields accept absent or null values
// as an empty list; the recipient field additionally must not be empty.
func requireStrings(obj map[string]any, field string, optional bool, verr *ValidationError) []string {
	raw, present := obj[field]
	if !present || raw == nil {
		if optional {
			return []string{}
		}
		if !present {
			verr.add(field, reasonRequired)
		} else {
			verr.add(field, fmt.Sprintf(reasonExpectedShape, "array", typeName(raw)))
		}
		return nil
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		if !optional && len(v) == 0 {
			verr.add(field, reasonEmptyArray)
			return nil
		}
		return append([]string{}, v...)
	default:
		verr.add(field, fmt.Sprintf(reasonExpectedShape, "array", typeName(raw)))
		return nil
	}

	if !optional && len(items) == 0 {
		verr.add(field, reasonEmptyArray)
		return nil
	}

	result := make([]string, 0, len(items))
	valid := true
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			verr.add(field, fmt.Sprintf(reasonExpectedShape, "string", typeName(item)))
			valid = false
			continue
		}
		result = append(result, s)
	}
	if !valid {
		return nil
	}
	return result
}

// typeName names a decoded JSON value the way the error reasons expect.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
