package jsvm

import (
	"encoding/json"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// EngineVersion is matched against the "engines.jsbox" constraint of
// package manifests.
const EngineVersion = "1.0.0"

const manifestName = "package.json"

// packageManifest holds the package.json fields resolution cares about.
type packageManifest struct {
	Name    string            `json:"name"`
	Main    string            `json:"main"`
	Engines map[string]string `json:"engines"`
}

// readManifest loads dir/package.json. A missing or malformed manifest
// yields nil; it never fails resolution.
func readManifest(fsys FS, dir string, logger zerolog.Logger) *packageManifest {
	path := filepath.Join(dir, manifestName)
	if !isFile(fsys, path) {
		return nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("unreadable package manifest")
		return nil
	}

	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("invalid package manifest")
		return nil
	}

	checkEngine(&m, path, logger)
	return &m
}

// checkEngine warns when the package declares an engine range this build
// does not satisfy.
func checkEngine(m *packageManifest, path string, logger zerolog.Logger) {
	expr, ok := m.Engines["jsbox"]
	if !ok || expr == "" {
		return
	}

	constraint, err := semver.NewConstraint(expr)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Str("engines", expr).Msg("invalid engine constraint")
		return
	}

	if !constraint.Check(semver.MustParse(EngineVersion)) {
		logger.Warn().
			Str("package", m.Name).
			Str("path", path).
			Str("requires", expr).
			Str("engine", EngineVersion).
			Msg("package requires a different engine version")
	}
}
