package common

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/daviszhen/ranker/pkg/util"
)

type Collation int

const (
	CollationBinary Collation = iota
	CollationUtf8GeneralCI
	CollationLibcCI
	CollationLibcCS
	CollationUnicodeCI
)

var collationNames = []string{
	CollationBinary:        "binary",
	CollationUtf8GeneralCI: "utf8_general_ci",
	CollationLibcCI:        "libc_ci",
	CollationLibcCS:        "libc_cs",
	CollationUnicodeCI:     "unicode_ci",
}

func (c Collation) String() string {
	if c < 0 || int(c) >= len(collationNames) {
		return fmt.Sprintf("collation(%d)", int(c))
	}
	return collationNames[c]
}

func ParseCollation(name string) (Collation, error) {
	lname := strings.ToLower(strings.TrimSpace(name))
	if lname == "" {
		return CollationLibcCI, nil
	}
	for i, n := range collationNames {
		if n == lname {
			return Collation(i), nil
		}
	}
	return CollationBinary, fmt.Errorf("unknown collation '%s'", name)
}

// Collator compares and hashes strings under one collation. It keeps
// scratch buffers, so every sorter or grouper owns its own instance.
type Collator struct {
	_coll  Collation
	_col   *collate.Collator
	_keyA  collate.Buffer
	_keyB  collate.Buffer
	_caser cases.Caser
}

func NewCollator(coll Collation) *Collator {
	ret := &Collator{_coll: coll}
	switch coll {
	case CollationBinary:
	case CollationUtf8GeneralCI:
		ret._caser = cases.Fold()
	case CollationLibcCI:
		ret._col = collate.New(language.English, collate.IgnoreCase)
	case CollationLibcCS:
		ret._col = collate.New(language.English)
	case CollationUnicodeCI:
		ret._col = collate.New(language.Und, collate.IgnoreCase)
	default:
		panic("usp")
	}
	return ret
}

func (c *Collator) Collation() Collation {
	return c._coll
}

func (c *Collator) Clone() *Collator {
	return NewCollator(c._coll)
}

func (c *Collator) Compare(a, b []byte) int {
	switch c._coll {
	case CollationBinary:
		return bytes.Compare(a, b)
	case CollationUtf8GeneralCI:
		return bytes.Compare(c._caser.Bytes(a), c._caser.Bytes(b))
	default:
		return c._col.Compare(a, b)
	}
}

// Key returns the bytes that are hashed for data. Equal strings under
// the collation produce equal keys. The result is valid until the next
// call.
func (c *Collator) Key(data []byte) []byte {
	switch c._coll {
	case CollationBinary:
		return data
	case CollationUtf8GeneralCI:
		return c._caser.Bytes(data)
	default:
		c._keyA.Reset()
		return c._col.Key(&c._keyA, data)
	}
}

func (c *Collator) Hash(data []byte) uint64 {
	return c.HashSeeded(data, util.HashSeed0)
}

func (c *Collator) HashSeeded(data []byte, seed uint64) uint64 {
	return util.HashSeeded(c.Key(data), seed)
}

// Equal reports whether a and b collate equal, avoiding the full compare
// for the binary collation.
func (c *Collator) Equal(a, b []byte) bool {
	if c._coll == CollationBinary {
		return bytes.Equal(a, b)
	}
	c._keyA.Reset()
	c._keyB.Reset()
	if c._col != nil {
		return bytes.Equal(c._col.Key(&c._keyA, a), c._col.Key(&c._keyB, b))
	}
	return c.Compare(a, b) == 0
}
