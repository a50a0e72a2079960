package store

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"binroute/internal/model"
)

// Fixture is a set of bins and predictions loaded from a seed file.
type Fixture struct {
	Bins        []model.Bin        `yaml:"bins"`
	Predictions []model.Prediction `yaml:"predictions"`
}

// LoadFixture reads a YAML seed file.
func LoadFixture(path string) (Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, errors.Wrapf(err, "read seed %s", path)
	}
	return ParseFixture(b)
}

// ParseFixture decodes and validates YAML seed data.
func ParseFixture(b []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Fixture{}, errors.Wrap(err, "parse seed")
	}
	if err := f.Validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

// Validate rejects entries without an id and bins with impossible coordinates.
func (f Fixture) Validate() error {
	for i, bin := range f.Bins {
		if bin.ID == "" {
			return errors.Errorf("seed bin %d has no id", i)
		}
		if bin.Location != nil && !bin.Location.Valid() {
			return errors.Errorf("seed bin %s has an invalid location", bin.ID)
		}
	}
	for i, p := range f.Predictions {
		if p.BinID == "" {
			return errors.Errorf("seed prediction %d has no binId", i)
		}
	}
	return nil
}
