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


package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/poiesic/maildex/core"
)

// MarshalID serializes an ID to 8 big-endian bytes so keys sort by ID.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// UnmarshalID deserializes an ID from the first 8 bytes of data.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) < 8 {
		return 0, ErrTruncatedData
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

// MarshalEmail serializes an Email to bytes.
func MarshalEmail(email *core.Email) []byte {
	buf := make([]byte, core.EmailMUS.Size(*email))
	core.EmailMUS.Marshal(*email, buf)
	return buf
}

// UnmarshalEmail deserializes an Email from bytes.
func UnmarshalEmail(data []byte) (*core.Email, error) {
	email, _, err := core.EmailMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: email: %w", ErrSerializationFailed, err)
	}
	email.Recipients = nonNil(email.Recipients)
	email.CC = nonNil(email.CC)
	email.BCC = nonNil(email.BCC)
	return &email, nil
}

// MarshalEmailSection serializes an EmailSection to bytes.
func MarshalEmailSection(section *core.EmailSection) []byte {
	buf := make([]byte, core.EmailSectionMUS.Size(*section))
	core.EmailSectionMUS.Marshal(*section, buf)
	return buf
}

// UnmarshalEmailSection deserializes an EmailSection from bytes.
func UnmarshalEmailSection(data []byte) (*core.EmailSection, error) {
	section, _, err := core.EmailSectionMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: section: %w", ErrSerializationFailed, err)
	}
	return &section, nil
}

// MarshalAddresses encodes an address list as a JSON array for column storage.
func MarshalAddresses(addrs []string) (string, error) {
	data, err := json.Marshal(nonNil(addrs))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return string(data), nil
}

// UnmarshalAddresses decodes a JSON array produced by MarshalAddresses.
func UnmarshalAddresses(data string) ([]string, error) {
	var addrs []string
	if err := json.Unmarshal([]byte(data), &addrs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return nonNil(addrs), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
