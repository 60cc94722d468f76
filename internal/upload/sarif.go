package upload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

const sarifVersion = "2.1.0"

// sarifLog keeps runs as raw JSON so every property the engine wrote is
// uploaded untouched.
type sarifLog struct {
	Schema  string            `json:"$schema,omitempty"`
	Version string            `json:"version"`
	Runs    []json.RawMessage `json:"runs"`
}

type runSummary struct {
	Tool struct {
		Driver struct {
			Name string `json:"name"`
		} `json:"driver"`
	} `json:"tool"`
	Results []json.RawMessage `json:"results"`
}

// findSarifFiles returns every *.sarif file under dir, sorted.
func findSarifFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sarif") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "search %s for SARIF files", dir)
	}
	sort.Strings(out)
	return out, nil
}

// combineSarifFiles merges the runs of all files into a single log.
func combineSarifFiles(paths []string) (*sarifLog, error) {
	combined := &sarifLog{Version: sarifVersion}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", p)
		}
		var l sarifLog
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, errors.Wrapf(err, "invalid SARIF file %s", p)
		}
		if l.Version != "" && l.Version != sarifVersion {
			return nil, errors.Newf("unsupported SARIF version %q in %s", l.Version, p)
		}
		if combined.Schema == "" {
			combined.Schema = l.Schema
		}
		combined.Runs = append(combined.Runs, l.Runs...)
	}
	return combined, nil
}

// summarize counts results and returns the first tool name.
func (l *sarifLog) summarize() (results int, tool string, err error) {
	for i, raw := range l.Runs {
		var rs runSummary
		if err := json.Unmarshal(raw, &rs); err != nil {
			return 0, "", errors.Wrapf(err, "invalid SARIF run %d", i)
		}
		results += len(rs.Results)
		if tool == "" {
			tool = rs.Tool.Driver.Name
		}
	}
	return results, tool, nil
}

// gzipBase64 returns the payload encoding the upload API expects, plus the
// compressed size.
func gzipBase64(raw []byte) (string, int, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", 0, errors.Wrap(err, "compress SARIF")
	}
	if err := zw.Close(); err != nil {
		return "", 0, errors.Wrap(err, "compress SARIF")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), buf.Len(), nil
}
