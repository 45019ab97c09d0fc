// SPDX-License-Identifier: Apache 2.0

package sync

import (
	"encoding/json"
	"fmt"

	"github.com/swarmsync/swarmsync/internal/manifest"
)

// marshalManifest encodes files as the JSON array SYNC_MANIFEST
// carries on the wire (spec §6.1 code 5: "json:str (array of
// fingerprints)").
func marshalManifest(mf manifest.Manifest) (string, error) {
	b, err := json.Marshal(mf.Files)
	if err != nil {
		return "", fmt.Errorf("sync: marshal manifest: %w", err)
	}
	return string(b), nil
}

func unmarshalManifest(payload string) (manifest.Manifest, error) {
	var files []manifest.SyncedFile
	if err := json.Unmarshal([]byte(payload), &files); err != nil {
		return manifest.Manifest{}, fmt.Errorf("sync: unmarshal manifest: %w", err)
	}
	return manifest.Manifest{Files: files}, nil
}
