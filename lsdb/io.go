// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

package lsdb

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// saveJSON writes the JSON encoding of v to the named file, creating
// parent directories if they don't exist.
func saveJSON(filename string, v interface{}) error {
	dir := filepath.Dir(filename)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create lsdb directory")
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode lsdb")
	}
	return errors.Wrapf(os.WriteFile(filename, b, 0644), "write %s", filename)
}

// loadJSON reads the JSON-encoded file and decodes it into v.
func loadJSON(filename string, v interface{}) error {
	b, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read %s", filename)
	}
	return errors.Wrapf(json.Unmarshal(b, v), "decode %s", filename)
}

type snapshot struct {
	Entries []*Entry `json:"entries"`
	Links   []*Link  `json:"links"`
}

// Save persists db to filename.
func Save(filename string, db *DB) error {
	return saveJSON(filename, snapshot{Entries: db.Entries(), Links: db.Links()})
}

// Load reads a database saved by Save. A missing file yields an empty
// database and an error satisfying os.IsNotExist through errors.Cause.
func Load(filename string) (*DB, error) {
	db := New()
	var snap snapshot
	if err := loadJSON(filename, &snap); err != nil {
		return db, err
	}
	for _, e := range snap.Entries {
		db.Put(e)
	}
	for _, l := range snap.Links {
		db.SetLink(l)
	}
	return db, nil
}
