// Package settings holds the user's desired recording configuration, split
// into the sections that are reconfigured independently.
package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Settings is the YAML settings document.
type Settings struct {
	Base    BaseConfig    `yaml:"base"`
	Video   VideoConfig   `yaml:"video"`
	Audio   AudioConfig   `yaml:"audio"`
	Flavour FlavourConfig `yaml:"flavour"`
	Overlay OverlayConfig `yaml:"overlay"`
}

// BaseConfig covers storage locations and the cloud account.
type BaseConfig struct {
	StoragePath        string `yaml:"storagePath" validate:"required"`
	SeparateBufferPath bool   `yaml:"separateBufferPath"`
	BufferStoragePath  string `yaml:"bufferStoragePath" validate:"required_if=SeparateBufferPath true"`
	// MaxStorageGB of zero means unlimited.
	MaxStorageGB int `yaml:"maxStorage" validate:"gte=0"`

	CloudStorage      bool   `yaml:"cloudStorage"`
	CloudUpload       bool   `yaml:"cloudUpload"`
	CloudBucket       string `yaml:"cloudBucket" validate:"required_if=CloudStorage true"`
	CloudCredentials  string `yaml:"cloudCredentialsFile" validate:"required_if=CloudStorage true"`
	CloudMaxStorageGB int    `yaml:"cloudMaxStorage" validate:"gte=0"`
	POVName           string `yaml:"povName" validate:"required_if=CloudUpload true"`
}

// BufferPath is where the engine writes its rolling buffer. Without a
// separate buffer path it is a hidden directory under the storage path.
func (c BaseConfig) BufferPath() string {
	if c.SeparateBufferPath {
		return c.BufferStoragePath
	}
	if c.StoragePath == "" {
		return ""
	}
	return filepath.Join(c.StoragePath, ".temp")
}

// VideoConfig describes the capture source and encoder.
type VideoConfig struct {
	CaptureMode   string `yaml:"captureMode" validate:"oneof=window_capture game_capture monitor_capture"`
	MonitorIndex  int    `yaml:"monitorIndex" validate:"gte=0"`
	CaptureCursor bool   `yaml:"captureCursor"`
	Resolution    string `yaml:"resolution" validate:"required"`
	FPS           int    `yaml:"fps" validate:"oneof=10 20 30 60"`
	BitrateMbps   int    `yaml:"bitrateMbps" validate:"gte=1,lte=300"`
	Encoder       string `yaml:"encoder" validate:"required"`
}

// AudioConfig lists the audio devices to capture and their volumes.
type AudioConfig struct {
	InputDevices  []string `yaml:"inputDevices,omitempty"`
	OutputDevices []string `yaml:"outputDevices,omitempty"`
	InputVolume   float64  `yaml:"inputVolume" validate:"gte=0,lte=1"`
	OutputVolume  float64  `yaml:"outputVolume" validate:"gte=0,lte=1"`
	ForceMono     bool     `yaml:"forceMono"`
	PushToTalk    bool     `yaml:"pushToTalk"`
	PushToTalkKey string   `yaml:"pushToTalkKey" validate:"required_if=PushToTalk true"`
}

// FlavourConfig selects which game clients are watched.
type FlavourConfig struct {
	RecordRetail   bool   `yaml:"recordRetail"`
	RetailLogPath  string `yaml:"retailLogPath" validate:"required_if=RecordRetail true"`
	RecordClassic  bool   `yaml:"recordClassic"`
	ClassicLogPath string `yaml:"classicLogPath" validate:"required_if=RecordClassic true"`
	// MinEncounterSeconds discards shorter activities.
	MinEncounterSeconds int `yaml:"minEncounterDuration" validate:"gte=0"`
	// OverrunSeconds keeps recording after an activity ends.
	OverrunSeconds int `yaml:"overrun" validate:"gte=0,lte=60"`
}

// OverlayConfig positions the chat overlay.
type OverlayConfig struct {
	ChatOverlayEnabled bool    `yaml:"chatOverlayEnabled"`
	Width              int     `yaml:"width" validate:"gte=0"`
	Height             int     `yaml:"height" validate:"gte=0"`
	XPosition          int     `yaml:"xPosition"`
	YPosition          int     `yaml:"yPosition"`
	Scale              float64 `yaml:"scale" validate:"gte=0,lte=5"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		Video: VideoConfig{
			CaptureMode: "game_capture",
			Resolution:  "1920x1080",
			FPS:         60,
			BitrateMbps: 15,
			Encoder:     "obs_x264",
		},
		Audio: AudioConfig{
			InputVolume:  1,
			OutputVolume: 1,
		},
		Flavour: FlavourConfig{
			MinEncounterSeconds: 15,
			OverrunSeconds:      3,
		},
		Overlay: OverlayConfig{
			Width:  700,
			Height: 230,
			Scale:  1,
		},
	}
}

// validate is shared by all sections.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Check runs the struct-tag rules on one settings section and returns a
// single readable error listing every violated field.
func Check(section any) error {
	err := validate.Struct(section)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
