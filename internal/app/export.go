package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/encryption"
	"arc-go/internal/fs"
)

// SnapshotExt is the file extension of encrypted index snapshots.
const SnapshotExt = ".arcidx"

// indexSnapshot is the plaintext of an exported index: every volume of every
// media set. It is compressed with zstd and encrypted with age.
type indexSnapshot struct {
	HostID    string                   `json:"host_id"`
	CreatedAt time.Time                `json:"created_at"`
	Sets      map[string][]*arc.Volume `json:"sets"`
}

func snapshotName(hostID, opID string) string {
	return fmt.Sprintf("%s-%s%s", hostID, opID, SnapshotExt)
}

// ExportIndex writes an encrypted snapshot of the whole index to path. Only
// the public key is needed.
func (a *ArcApp) ExportIndex(path string) error {
	return exportIndex(a.store, a.encryptor, a.cfg.HostID, time.Now().UTC(), path)
}

func exportIndex(store arc.IndexStore, enc arc.Encryptor, hostID string, now time.Time, path string) error {
	sets, err := store.ListSets()
	if err != nil {
		return fmt.Errorf("listing media sets: %w", err)
	}
	snap := indexSnapshot{HostID: hostID, CreatedAt: now, Sets: make(map[string][]*arc.Volume, len(sets))}
	for _, set := range sets {
		volumes, err := store.LoadVolumes(set)
		if err != nil {
			return fmt.Errorf("loading %s: %w", set, err)
		}
		snap.Sets[set] = volumes
	}

	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	var sealed bytes.Buffer
	if err := encryption.WriteSnapshot(enc, &sealed, bytes.NewReader(plain)); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := fs.WriteFileAtomic(path, &sealed); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// ImportIndex decrypts the snapshot at path with the passphrase and saves
// every volume it holds into the index, replacing volumes with the same set
// and number. It returns the number of volumes imported.
func (a *ArcApp) ImportIndex(path, passphrase string) (int, error) {
	if err := a.persistOperation(); err != nil {
		return 0, err
	}
	n, err := importIndex(a.store, a.encryptor, path, passphrase)
	a.op.Record(err)
	if err == nil {
		a.logger.Info("index imported", "path", path, "volumes", n)
	}
	return n, err
}

func importIndex(store arc.IndexStore, enc arc.Encryptor, path, passphrase string) (int, error) {
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	var plain bytes.Buffer
	if err := encryption.ReadSnapshot(dc, f, &plain); err != nil {
		return 0, err
	}
	var snap indexSnapshot
	if err := json.Unmarshal(plain.Bytes(), &snap); err != nil {
		return 0, fmt.Errorf("decoding snapshot: %w", err)
	}

	names := make([]string, 0, len(snap.Sets))
	for name := range snap.Sets {
		names = append(names, name)
	}
	sort.Strings(names)

	count := 0
	for _, name := range names {
		for _, v := range snap.Sets[name] {
			if v.Set != name {
				return count, fmt.Errorf("snapshot volume %s listed under set %s", v.Label(), name)
			}
			v.Link()
			if err := store.SaveVolume(v); err != nil {
				return count, fmt.Errorf("saving %s: %w", v.Label(), err)
			}
			count++
		}
	}
	return count, nil
}
