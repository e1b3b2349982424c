// Copyright 2025 The Nereid Authors
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

package querydaemon

import (
	"testing"
	"time"
)

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: "NULL"},
		{name: "true", value: true, want: "1"},
		{name: "false", value: false, want: "0"},
		{name: "string", value: "hello", want: "'hello'"},
		{name: "string with quote", value: "o'clock", want: "'o''clock'"},
		{name: "bytes", value: []byte{0xde, 0xad}, want: "X'dead'"},
		{name: "int", value: 42, want: "42"},
		{name: "negative int64", value: int64(-7), want: "-7"},
		{name: "uint64", value: uint64(18446744073709551615), want: "18446744073709551615"},
		{name: "float", value: 1.5, want: "1.5"},
		{
			name:  "time",
			value: time.Date(2018, 6, 1, 13, 4, 55, 0, time.UTC),
			want:  "'2018-06-01 13:04:55'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := quoteLiteral(tt.value); got != tt.want {
				t.Errorf("quoteLiteral(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("users"); got != `"users"` {
		t.Errorf("quoteIdent(users) = %q", got)
	}
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("quoteIdent = %q", got)
	}
}

func TestBuildSaveSQL(t *testing.T) {
	rec := &userRecord{ID: 1, Name: "a"}

	got := buildSaveSQL(rec, false)
	want := `INSERT INTO "users" ("id", "name", "score", "blob", "active") VALUES (1, 'a', 0, X'', 0)`
	if got != want {
		t.Errorf("insert = %q, want %q", got, want)
	}

	got = buildSaveSQL(rec, true)
	if want := `INSERT OR REPLACE INTO "users" ("id", "name", "score", "blob", "active") VALUES (1, 'a', 0, X'', 0)`; got != want {
		t.Errorf("replace = %q, want %q", got, want)
	}
}
