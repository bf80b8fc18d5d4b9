// Package config resolves the agent settings: where the external tools live,
// how their environments are activated, and which pretrained models to fall
// back on. Nothing installation-specific is compiled in; everything can be
// supplied through a JSON settings file or environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// EnvSettings names the environment variable holding the settings file path,
// used when --settings is not passed.
const EnvSettings = "RELION_AGENT_SETTINGS"

// EnvScratchDir optionally redirects intermediate filtered-image output to
// fast scratch space. It overrides the scratch_dir settings key.
const EnvScratchDir = "RELION_SCRATCH_DIR"

// Tool describes one external tool: an optional shell activation prefix
// (e.g. sourcing a conda environment) and the executable to invoke once the
// environment is live.
type Tool struct {
	Activate   string `json:"activate,omitempty"`
	Executable string `json:"executable" validate:"required"`
}

// CryoloSettings configures the crYOLO training tool.
type CryoloSettings struct {
	Tool
	// GeneralModel is the pretrained model used when --model is not passed.
	GeneralModel string `json:"general_model,omitempty"`
	// JanniModel, when set, switches micrograph filtering from the built-in
	// lowpass filter to JANNI denoising.
	JanniModel string `json:"janni_model,omitempty"`
}

// CinderellaSettings configures the cinderella class-selection tool.
type CinderellaSettings struct {
	Tool
	// GeneralModel is the prediction model used when --model is "None".
	GeneralModel string `json:"general_model,omitempty"`
}

// Settings is the full agent configuration. Zero values fall back to the
// documented defaults; see Defaults.
type Settings struct {
	Topaz      Tool               `json:"topaz" validate:"required"`
	Cryolo     CryoloSettings     `json:"cryolo" validate:"required"`
	Cinderella CinderellaSettings `json:"cinderella" validate:"required"`
	// ScratchDir holds intermediate filtered micrographs during training.
	// Empty means a directory inside the job's own output directory.
	ScratchDir string `json:"scratch_dir,omitempty"`
}

// Defaults returns settings that assume the tools are already on PATH, with
// no activation prefix and no pretrained model paths.
func Defaults() Settings {
	return Settings{
		Topaz:      Tool{Executable: "topaz"},
		Cryolo:     CryoloSettings{Tool: Tool{Executable: "cryolo_train.py"}},
		Cinderella: CinderellaSettings{Tool: Tool{Executable: "sp_cinderella_predict.py"}},
	}
}

// Load reads a settings file on top of the defaults, so a partial file only
// overrides the keys it names.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}
	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return &s, nil
}

// Resolve produces the effective settings: the --settings flag path wins,
// then the RELION_AGENT_SETTINGS environment variable, then built-in
// defaults. The RELION_SCRATCH_DIR environment variable overrides the
// scratch_dir key regardless of source.
func Resolve(flagPath string) (*Settings, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvSettings)
	}

	var s *Settings
	if path == "" {
		defaults := Defaults()
		s = &defaults
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		s = loaded
	}

	if scratch := os.Getenv(EnvScratchDir); scratch != "" {
		s.ScratchDir = scratch
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings structure.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
