package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/sirupsen/logrus"
)

// seedRecord is one value of the seed document:
//
//	{"0x8576...353c": {"reason": "Phishing", "source": "Etherscan Blacklist"}}
type seedRecord struct {
	Reason string `json:"reason"`
	Source string `json:"source"`
}

// ImportResult summarizes an Import run.
type ImportResult struct {
	Imported int
	Skipped  []string
}

// Import reads a seed document and adds every valid address. Entries with
// malformed addresses are skipped and reported, not fatal. A missing source
// falls back to actor and a missing reason to DefaultReason.
func Import(ctx context.Context, store *Store, r io.Reader, actor string) (ImportResult, error) {
	var doc map[string]seedRecord
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ImportResult{}, fmt.Errorf("decode blacklist seed: %w", err)
	}

	var res ImportResult
	for raw, rec := range doc {
		addr, err := aml.ParseAddress(raw)
		if err != nil {
			res.Skipped = append(res.Skipped, raw)
			continue
		}
		addedBy := rec.Source
		if addedBy == "" {
			addedBy = actor
		}
		if err := store.Add(ctx, aml.BlacklistEntry{Address: addr, Reason: rec.Reason, AddedBy: addedBy}); err != nil {
			return res, err
		}
		res.Imported++
	}
	return res, nil
}

// ImportFile imports the seed document at path.
func ImportFile(ctx context.Context, store *Store, path, actor string, log *logrus.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open blacklist seed: %w", err)
	}
	defer f.Close()

	res, err := Import(ctx, store, f, actor)
	if err != nil {
		return err
	}
	for _, raw := range res.Skipped {
		log.WithFields(logrus.Fields{
			"path":    path,
			"address": raw,
		}).Warn("Skipping malformed blacklist seed address")
	}
	log.WithFields(logrus.Fields{
		"path":     path,
		"imported": res.Imported,
		"skipped":  len(res.Skipped),
	}).Info("Blacklist seed imported")
	return nil
}

// Export writes every entry in the seed format, with addedBy as source.
func Export(ctx context.Context, store *Store, w io.Writer) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	doc := make(map[string]seedRecord, len(entries))
	for _, e := range entries {
		doc[e.Address.String()] = seedRecord{Reason: e.Reason, Source: e.AddedBy}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}
