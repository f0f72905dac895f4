// Package output writes conversion results: flat tabular files, batch
// metadata and the validation error side-channel.
package output

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// OutputManager handles centralized output management for one conversion
// batch. Every batch gets its own timestamped directory and a combined
// console and file logger.
type OutputManager struct {
	baseDir   string
	timestamp string
	batchID   string
	log       zerolog.Logger
}

// NewOutputManager creates a new OutputManager with the given base directory.
func NewOutputManager(baseDir string, log zerolog.Logger) (*OutputManager, error) {
	timestamp := time.Now().Format("20060102_150405")

	outputPath := filepath.Join(baseDir, timestamp)
	if err := os.MkdirAll(outputPath, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	logsDir := filepath.Join(outputPath, "logs")
	if err := os.MkdirAll(logsDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile, err := os.Create(filepath.Join(logsDir, "app.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	consoleWriter := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stdout
	})
	multiWriter := zerolog.MultiLevelWriter(consoleWriter, logFile)

	combinedLogger := zerolog.New(multiWriter).
		With().
		Timestamp().
		Caller().
		Logger()

	return &OutputManager{
		baseDir:   outputPath,
		timestamp: timestamp,
		batchID:   uuid.New().String(),
		log:       combinedLogger,
	}, nil
}

// Logger returns the combined console and file logger for the batch.
func (om *OutputManager) Logger() zerolog.Logger {
	return om.log
}

// BatchID returns the unique identifier of this conversion batch.
func (om *OutputManager) BatchID() string {
	return om.batchID
}

// Dir returns the batch output directory.
func (om *OutputManager) Dir() string {
	return om.baseDir
}

// WriteFlatCSV writes flat records to a per-resource CSV file. Columns
// are the sorted union of all record keys; list and object values are
// JSON-encoded into their cell.
func (om *OutputManager) WriteFlatCSV(kind string, records []map[string]any) (string, error) {
	columns := map[string]bool{}
	for _, r := range records {
		for k := range r {
			columns[k] = true
		}
	}
	header := maps.Keys(columns)
	slices.Sort(header)

	filename := fmt.Sprintf("%s_%s.csv", kind, om.timestamp)
	outputPath := filepath.Join(om.baseDir, filename)

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := make([]string, len(header))
		for i, col := range header {
			cell, err := formatCell(r[col])
			if err != nil {
				return "", fmt.Errorf("failed to format column %s: %w", col, err)
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush output file: %w", err)
	}

	om.log.Info().
		Str("resourceKind", kind).
		Str("file", outputPath).
		Int("rows", len(records)).
		Msg("Wrote flat output file")

	return outputPath, nil
}

// WriteErrors writes the validation error side-channel for a resource
// kind: the original flat record plus a validation_error column.
func (om *OutputManager) WriteErrors(kind string, records []map[string]any, errs []error) (string, error) {
	if len(records) != len(errs) {
		return "", fmt.Errorf("error records and errors differ in length: %d vs %d", len(records), len(errs))
	}
	combined := make([]map[string]any, len(records))
	for i, r := range records {
		row := make(map[string]any, len(r)+1)
		for k, v := range r {
			row[k] = v
		}
		row["validation_error"] = errs[i].Error()
		combined[i] = row
	}
	return om.WriteFlatCSV(kind+"_errors", combined)
}

// Version tags generated batches so provenance survives files being
// copied out of the batch directory.
const Version = "0.1.0"

// Metadata describes one conversion batch for provenance tracking. The
// top-level checksum covers all output files together, the manifest holds
// each file's own hash.
type Metadata struct {
	BatchID   string            `json:"batch_id"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Rows      int               `json:"rows"`
	Checksum  string            `json:"checksum"`
	Checksums map[string]string `json:"checksums"`
}

// WriteMetadata writes the batch metadata sidecar.
func (om *OutputManager) WriteMetadata(files []string, rows int) error {
	meta := Metadata{
		BatchID:   om.batchID,
		Timestamp: om.timestamp,
		Version:   Version,
		Rows:      rows,
		Checksums: map[string]string{},
	}
	combined := sha256.New()
	slices.Sort(files)
	for _, f := range files {
		sum, err := checksum(f)
		if err != nil {
			return err
		}
		meta.Checksums[filepath.Base(f)] = sum
		combined.Write([]byte(sum))
	}
	meta.Checksum = hex.EncodeToString(combined.Sum(nil))

	outputPath := filepath.Join(om.baseDir, "metadata.json")
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	om.log.Debug().
		Str("file", outputPath).
		Int("files", len(files)).
		Msg("Wrote batch metadata")

	return nil
}

func formatCell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(t), nil
	}
}

func checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for checksum: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
