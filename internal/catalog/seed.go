// Package catalog содержит встроенный набор уроков для начального заполнения каталога.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/finlearn-system/internal/model"
)

//go:embed seed.yaml
var seedYAML []byte

type seedLesson struct {
	Title       string               `yaml:"title"`
	Icon        string               `yaml:"icon"`
	RewardCoins int64                `yaml:"rewardCoins"`
	Slides      []string             `yaml:"slides"`
	Quiz        []model.QuizQuestion `yaml:"quiz"`
}

type seedFile struct {
	Lessons []seedLesson `yaml:"lessons"`
}

// SeedLessons возвращает фиксированный набор уроков для заполнения пустого каталога.
func SeedLessons() ([]model.Lesson, error) {
	var f seedFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return nil, fmt.Errorf("parse seed lessons: %w", err)
	}

	lessons := make([]model.Lesson, 0, len(f.Lessons))
	for _, sl := range f.Lessons {
		lessons = append(lessons, model.Lesson{
			Title:       sl.Title,
			Icon:        sl.Icon,
			Slides:      sl.Slides,
			Quiz:        sl.Quiz,
			RewardCoins: sl.RewardCoins,
		})
	}

	return lessons, nil
}
