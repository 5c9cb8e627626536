// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"strings"
)

// AttrType is the type of one match attribute. Blob types live in the
// query blob pool and are owned by exactly one match.
type AttrType int

const (
	AttrNone AttrType = iota
	AttrInteger
	AttrBigint
	AttrBool
	AttrTimestamp
	AttrFloat
	AttrString
	AttrUint32Set
	AttrInt64Set
	AttrJSON
	AttrJSONField
)

var attrTypeNames = []string{
	AttrNone:      "none",
	AttrInteger:   "integer",
	AttrBigint:    "bigint",
	AttrBool:      "bool",
	AttrTimestamp: "timestamp",
	AttrFloat:     "float",
	AttrString:    "string",
	AttrUint32Set: "uint_set",
	AttrInt64Set:  "int64_set",
	AttrJSON:      "json",
	AttrJSONField: "json_field",
}

func (t AttrType) String() string {
	if t < 0 || int(t) >= len(attrTypeNames) {
		return fmt.Sprintf("attr_type(%d)", int(t))
	}
	return attrTypeNames[t]
}

func ParseAttrType(name string) (AttrType, error) {
	lname := strings.ToLower(strings.TrimSpace(name))
	switch lname {
	case "int", "uint":
		return AttrInteger, nil
	case "long":
		return AttrBigint, nil
	case "double":
		return AttrFloat, nil
	case "str", "text", "varchar":
		return AttrString, nil
	case "mva":
		return AttrUint32Set, nil
	case "mva64":
		return AttrInt64Set, nil
	}
	for i, n := range attrTypeNames {
		if n == lname && AttrType(i) != AttrNone {
			return AttrType(i), nil
		}
	}
	return AttrNone, fmt.Errorf("unknown attribute type '%s'", name)
}

// IsBlob reports whether values of this type are pointer-owned.
func (t AttrType) IsBlob() bool {
	switch t {
	case AttrString, AttrUint32Set, AttrInt64Set, AttrJSON, AttrJSONField:
		return true
	}
	return false
}

func (t AttrType) IsMVA() bool {
	return t == AttrUint32Set || t == AttrInt64Set
}

func (t AttrType) IsJSON() bool {
	return t == AttrJSON || t == AttrJSONField
}

func (t AttrType) IsInt() bool {
	switch t {
	case AttrInteger, AttrBigint, AttrBool, AttrTimestamp:
		return true
	}
	return false
}

func (t AttrType) IsNumeric() bool {
	return t.IsInt() || t == AttrFloat
}
