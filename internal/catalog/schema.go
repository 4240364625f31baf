// Package catalog holds the model database the search service indexes: the
// upscaling models themselves, their authors, tags and tag categories. The
// data lives on disk as JSON, one file per model plus one file each for
// users, tags and tag categories.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Model describes one upscaling model. Its ID is the file name it was
// loaded from and is not part of the JSON body.
type Model struct {
	ID             string     `json:"-"`
	Name           string     `json:"name"`
	Authors        Authors    `json:"author"`
	License        string     `json:"license"`
	Tags           []string   `json:"tags"`
	Description    string     `json:"description"`
	Date           string     `json:"date"`
	Architecture   string     `json:"architecture"`
	Size           []string   `json:"size"`
	Scale          int        `json:"scale"`
	InputChannels  int        `json:"inputChannels"`
	OutputChannels int        `json:"outputChannels"`
	Resources      []Resource `json:"resources"`

	TrainingIterations *int            `json:"trainingIterations,omitempty"`
	TrainingEpochs     *int            `json:"trainingEpochs,omitempty"`
	TrainingBatchSize  json.RawMessage `json:"trainingBatchSize,omitempty"`
	TrainingHRSize     *int            `json:"trainingHRSize,omitempty"`
	TrainingOTF        *bool           `json:"trainingOTF,omitempty"`
	Dataset            string          `json:"dataset,omitempty"`
	DatasetSize        *int            `json:"datasetSize,omitempty"`
	PretrainedModelG   *ModelRef       `json:"pretrainedModelG,omitempty"`
	PretrainedModelD   *ModelRef       `json:"pretrainedModelD,omitempty"`
}

// Authors is the author list of a model. In JSON it is either a single user
// ID or an array of them.
type Authors []string

func (a *Authors) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*a = Authors{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("author must be a string or an array of strings: %w", err)
	}
	*a = many
	return nil
}

func (a Authors) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// ModelRef points at another model: either a model ID in the database or a
// free-form description of a model that is not.
type ModelRef struct {
	ID          string `json:"-"`
	Description string `json:"description,omitempty"`
}

func (r *ModelRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = ModelRef{ID: id}
		return nil
	}
	var desc struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("model reference must be an ID or {description}: %w", err)
	}
	*r = ModelRef{Description: desc.Description}
	return nil
}

func (r ModelRef) MarshalJSON() ([]byte, error) {
	if r.ID != "" {
		return json.Marshal(r.ID)
	}
	return json.Marshal(struct {
		Description string `json:"description"`
	}{r.Description})
}

// Resource is a downloadable model file.
type Resource struct {
	Type   string   `json:"type"`
	Size   *int64   `json:"size"`
	SHA256 *string  `json:"sha256"`
	URLs   []string `json:"urls"`
}

type User struct {
	Name string `json:"name"`
}

type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TagCategory groups tags in the filter panel. Exclusive categories allow at
// most one picked tag at a time.
type TagCategory struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Order       int      `json:"order"`
	Exclusive   bool     `json:"exclusive"`
	Tags        []string `json:"tags"`
}
