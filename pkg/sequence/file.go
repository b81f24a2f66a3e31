package sequence

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// waitKeys records which haptic configs set wait_for_prior_move explicitly.
type waitKeys struct {
	Blocks []struct {
		Config *struct {
			WaitForPriorMove *bool `yaml:"wait_for_prior_move"`
		} `yaml:"config"`
	} `yaml:"blocks"`
}

// Decode reads a YAML sequence from r and validates it. A haptic config that
// leaves out wait_for_prior_move gets the default of true.
func Decode(r io.Reader) (Sequence, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Sequence{}, fmt.Errorf("read sequence YAML: %w", err)
	}

	var s Sequence
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Sequence{}, fmt.Errorf("parse sequence YAML: %w", err)
	}
	if s.Patches == nil {
		s.Patches = make(map[PatchID]Waypoint)
	}

	var keys waitKeys
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return Sequence{}, fmt.Errorf("parse sequence YAML: %w", err)
	}
	for i, b := range keys.Blocks {
		if i >= len(s.Blocks) || s.Blocks[i].Config == nil {
			continue
		}
		if b.Config == nil || b.Config.WaitForPriorMove == nil {
			s.Blocks[i].Config.WaitForPriorMove = true
		}
	}
	if err := Validate(s); err != nil {
		return Sequence{}, err
	}
	return s, nil
}

// Encode writes s to w as YAML.
func Encode(w io.Writer, s Sequence) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode sequence YAML: %w", err)
	}
	return enc.Close()
}

// Load reads and validates a sequence file.
func Load(path string) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sequence{}, fmt.Errorf("read sequence file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Save writes a sequence file.
func Save(path string, s Sequence) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
