// Package schema turns TABLE blocks into tasks and sidecar files, and
// synchronizes them to storage connections.
package schema

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// KindWriteTableDefinition is the only task kind a script produces.
const KindWriteTableDefinition = "writeTableDefinition"

// Task is compile output that is persisted, never executed.
type Task struct {
	Kind       string             `json:"kind" yaml:"kind"`
	TargetFile string             `json:"targetFile" yaml:"targetFile"`
	Tables     []*parser.TableDef `json:"tables" yaml:"tables"`
}

// TasksFor returns the tasks of a script, or nil when it declares no tables.
func TasksFor(script string, tables []*parser.TableDef) []Task {
	if len(tables) == 0 {
		return nil
	}
	return []Task{{
		Kind:       KindWriteTableDefinition,
		TargetFile: SidecarName(script),
		Tables:     tables,
	}}
}

// SidecarName is the file a script's table definitions are written to.
func SidecarName(script string) string {
	return script + ".tables.yaml"
}

// Sidecar is the on-disk form of a script's table definitions.
type Sidecar struct {
	Script string             `yaml:"script"`
	Tables []*parser.TableDef `yaml:"tables"`
}

// WriteSidecar writes the table definitions of script to path.
func WriteSidecar(path, script string, tables []*parser.TableDef) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Sidecar{Script: script, Tables: tables}); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadSidecar loads a sidecar written by WriteSidecar.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sc, nil
}
