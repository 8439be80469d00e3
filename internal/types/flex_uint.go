// flex_uint.go
//
// Facet - dataset lineage and session coordination service for a
// quantum-crystallography tool-execution backend.
//
// This file is part of facet.
// facet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// facet is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexUint is a uint that can be unmarshaled from either a JSON number or a
// JSON string. Browser form posts deliver record ids as strings; API clients
// send numbers.
type FlexUint uint

// UnmarshalJSON implements the json.Unmarshaler interface.
func (f *FlexUint) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	// Try unmarshaling as a number first
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexUint(n)
		return nil
	}

	// Try unmarshaling as a string
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("FlexUint: invalid uint string %q: %w", s, err)
		}
		*f = FlexUint(val)
		return nil
	}

	return fmt.Errorf("FlexUint: unexpected type, expected number or string")
}

// MarshalJSON implements the json.Marshaler interface.
func (f FlexUint) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint(f))
}

// Uint converts FlexUint back to uint.
func (f FlexUint) Uint() uint {
	return uint(f)
}
