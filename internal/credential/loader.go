package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/daub/internal/errkind"
)

// rawCredential is the on-disk shape of one credential file.
type rawCredential struct {
	Cookie string `json:"cookie"`
}

// LoadDir reads every regular .json file in dir, each holding
// {"cookie": "<token>"}. Files are read in name order so runs are
// reproducible. Every credential starts as never used.
func LoadDir(dir string) ([]Credential, error) {
	const op = "load credentials"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errkind.New(errkind.FileAccess, op, fmt.Errorf("failed to read credential directory: %w", err))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	creds := make([]Credential, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errkind.New(errkind.FileAccess, op, fmt.Errorf("failed to read %s: %w", name, err))
		}

		var raw rawCredential
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errkind.New(errkind.ConfigParse, op, fmt.Errorf("failed to parse %s: %w", name, err))
		}
		token := strings.TrimSpace(raw.Cookie)
		if token == "" {
			return nil, errkind.Errorf(errkind.ConfigParse, op, "%s: cookie is empty", name)
		}
		if first, dup := seen[token]; dup {
			return nil, errkind.Errorf(errkind.ConfigParse, op, "%s: duplicate cookie (also in %s)", name, first)
		}
		seen[token] = name

		creds = append(creds, Credential{Token: token})
	}

	if len(creds) == 0 {
		return nil, errkind.Errorf(errkind.FileAccess, op, "no credential files found in %s", dir)
	}

	return creds, nil
}
