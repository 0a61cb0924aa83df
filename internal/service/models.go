package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
)

// ModelStatus is a snapshot of the model manager for health and model
// endpoints.
type ModelStatus struct {
	ModelID     string `json:"model_id"`
	ComputeType string `json:"compute_type"`
	Switching   bool   `json:"switching"`
	Target      string `json:"target,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// modelConfig is the persisted model selection, written atomically to the
// data dir so a restart keeps the last switched model.
type modelConfig struct {
	ModelID     string `json:"model_id"`
	ComputeType string `json:"compute_type"`
}

// ModelManager owns the current engine model selection and serializes hot
// switches. While a switch is in flight new uploads are refused, and a
// second switch request conflicts.
type ModelManager struct {
	mu         sync.Mutex
	configPath string
	modelDir   string
	current    modelConfig
	switching  bool
	target     string
	lastError  string
}

func NewModelManager(dataDir, modelDir, defaultModel, defaultCompute string) (*ModelManager, error) {
	m := &ModelManager{
		configPath: filepath.Join(dataDir, "config.json"),
		modelDir:   modelDir,
		current:    modelConfig{ModelID: defaultModel, ComputeType: defaultCompute},
	}

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &m.current); err != nil {
			return nil, fmt.Errorf("parse model config: %w", err)
		}
	case os.IsNotExist(err):
		if err := m.saveLocked(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read model config: %w", err)
	}

	return m, nil
}

// Current returns the active model id and compute type.
func (m *ModelManager) Current() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.ModelID, m.current.ComputeType
}

func (m *ModelManager) Switching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switching
}

func (m *ModelManager) Status() ModelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ModelStatus{
		ModelID:     m.current.ModelID,
		ComputeType: m.current.ComputeType,
		Switching:   m.switching,
		Target:      m.target,
		LastError:   m.lastError,
	}
}

// ModelPath returns the on-disk weights location for the active model.
func (m *ModelManager) ModelPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filepath.Join(m.modelDir, domain.ModelFilename(m.current.ModelID))
}

// Switch validates and starts an asynchronous switch to another model.
// The switch commits only once the target weights are present on disk.
func (m *ModelManager) Switch(modelID, computeType string) error {
	if !domain.ValidModelID(modelID) {
		return domain.NewValidationError("unknown model id %q", modelID)
	}
	if computeType == "" {
		_, computeType = m.Current()
	}
	if !domain.ValidComputeType(computeType) {
		return domain.NewValidationError("unknown compute type %q", computeType)
	}

	m.mu.Lock()
	if m.switching {
		m.mu.Unlock()
		return domain.ErrSwitchInProgress
	}
	m.switching = true
	m.target = modelID
	m.lastError = ""
	m.mu.Unlock()

	go m.doSwitch(modelID, computeType)
	return nil
}

func (m *ModelManager) doSwitch(modelID, computeType string) {
	logger.Info.Printf("switching to model %s (%s)", modelID, computeType)

	weights := filepath.Join(m.modelDir, domain.ModelFilename(modelID))
	_, err := os.Stat(weights)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.switching = false
	m.target = ""

	if err != nil {
		m.lastError = fmt.Sprintf("model weights not available: %v", err)
		logger.Error.Printf("model switch to %s failed: %v", modelID, err)
		return
	}

	m.current = modelConfig{ModelID: modelID, ComputeType: computeType}
	if err := m.saveLocked(); err != nil {
		logger.Error.Printf("failed to persist model config: %v", err)
	}
	logger.Info.Printf("switched to model %s", modelID)
}

// saveLocked writes the config atomically. Callers must hold the lock
// (or be the constructor before the manager is shared).
func (m *ModelManager) saveLocked() error {
	data, err := json.MarshalIndent(m.current, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := m.configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write model config: %w", err)
	}
	return os.Rename(tmpPath, m.configPath)
}
