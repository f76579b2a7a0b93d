package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vellum/internal/logging"
	"vellum/internal/registry"
	"vellum/internal/services"
)

// resourceFile is the on-disk shape of an ingestable resource descriptor.
type resourceFile struct {
	URL     string          `json:"url"`
	Version string          `json:"version"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// IngestResult summarizes one LoadDir pass.
type IngestResult struct {
	Loaded  int
	Skipped int
}

// LoadDir registers every *.json resource descriptor under dir. Files that
// cannot be read or parsed are logged and skipped; the pass keeps going so a
// single bad descriptor does not block the run.
func LoadDir(reg *registry.Registry, dir string, logger *slog.Logger) (IngestResult, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ingest")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return IngestResult{}, services.Wrap(services.ErrValidation, "pipeline", "load_dir", fmt.Sprintf("read resource directory %s", dir), err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var result IngestResult
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			result.Skipped++
			logging.WarnWithContext(logger, "skipping unreadable resource file", "ingest_skip",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions"))
			continue
		}

		var rf resourceFile
		if err := json.Unmarshal(data, &rf); err != nil {
			result.Skipped++
			logging.WarnWithContext(logger, "skipping malformed resource file", "ingest_skip",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "descriptor must be a JSON object with url, version, kind, payload"))
			continue
		}
		if rf.URL == "" || rf.Version == "" {
			result.Skipped++
			logging.WarnWithContext(logger, "skipping resource file without url or version", "ingest_skip",
				logging.String("path", path))
			continue
		}

		id := reg.See(registry.Resource{
			URL:     rf.URL,
			Version: rf.Version,
			Kind:    rf.Kind,
			Payload: append([]byte(nil), rf.Payload...),
		})
		result.Loaded++
		logger.Debug("registered resource",
			logging.String(logging.FieldResource, rf.URL),
			logging.String(logging.FieldVersion, rf.Version),
			logging.Int64("sequence_id", id))
	}

	logger.Info("resource ingest complete",
		logging.String("dir", dir),
		logging.Int("loaded", result.Loaded),
		logging.Int("skipped", result.Skipped),
		logging.String(logging.FieldEventType, "ingest_complete"))
	return result, nil
}
