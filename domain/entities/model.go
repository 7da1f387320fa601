package entities

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ModelID identifies an (architecture, training dataset) pair, e.g. "MobileNetV2_FER2013"
type ModelID string

// DefaultModelID is selected when no model is configured
const DefaultModelID ModelID = "MobileNetV2_FER2013"

// DefaultModels is the catalog served by the reference emotion API
var DefaultModels = []ModelID{
	"MobileNetV2_FER2013",
	"MobileNetV2_RAF-DB",
	"MobileNetV2_CK+48",
	"ResNet50_FER2013",
	"ResNet50_RAF-DB",
	"ResNet50_CK+48",
	"VGG19_FER2013",
	"VGG19_RAF-DB",
	"VGG19_CK+48",
}

// Architecture returns the network part of the id
func (m ModelID) Architecture() string {
	arch, _, _ := strings.Cut(string(m), "_")
	return arch
}

// Dataset returns the training dataset part of the id, or "" when the id has none
func (m ModelID) Dataset() string {
	_, dataset, _ := strings.Cut(string(m), "_")
	return dataset
}

// ModelCatalog is the fixed set of model ids a session may select
type ModelCatalog struct {
	models       []ModelID
	defaultModel ModelID
}

// NewModelCatalog builds a catalog, rejecting empty, duplicate or unknown default entries
func NewModelCatalog(models []ModelID, defaultModel ModelID) (*ModelCatalog, error) {
	if len(models) == 0 {
		return nil, errors.New("model catalog is empty")
	}
	for _, m := range models {
		if strings.TrimSpace(string(m)) == "" {
			return nil, errors.New("model catalog contains an empty id")
		}
	}
	if dups := lo.FindDuplicates(models); len(dups) > 0 {
		return nil, fmt.Errorf("model catalog contains duplicates: %v", dups)
	}
	if defaultModel == "" {
		defaultModel = models[0]
	}
	if !lo.Contains(models, defaultModel) {
		return nil, fmt.Errorf("default model %q is not in the catalog", defaultModel)
	}

	return &ModelCatalog{
		models:       append([]ModelID(nil), models...),
		defaultModel: defaultModel,
	}, nil
}

// Contains reports whether id is a known model
func (c *ModelCatalog) Contains(id ModelID) bool {
	return lo.Contains(c.models, id)
}

// Models returns a copy of the catalog in configuration order
func (c *ModelCatalog) Models() []ModelID {
	return append([]ModelID(nil), c.models...)
}

func (c *ModelCatalog) Default() ModelID {
	return c.defaultModel
}
