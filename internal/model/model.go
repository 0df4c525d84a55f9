// Package model содержит доменные сущности сервиса финлёрн.
package model

import "time"

// Account представляет внутренний счёт ученика, привязанный к внешней личности.
type Account struct {
	ID               int64
	Identity         string
	DisplayName      string
	Email            string
	CoinBalance      int64
	CurrentDay       int
	GroupID          *int64
	CompletedLessons []int64
	Awards           []int64
	CreatedAt        time.Time
}

// QuizQuestion описывает один вопрос викторины урока.
type QuizQuestion struct {
	Question     string   `json:"question" yaml:"question"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correctIndex" yaml:"correctIndex"`
}

// Lesson описывает урок: слайды, викторину и размер награды за прохождение.
type Lesson struct {
	ID          int64
	Title       string
	Icon        string
	Slides      []string
	Quiz        []QuizQuestion
	RewardCoins int64
	CreatedAt   time.Time
}

// Award описывает награду. Зарезервировано: ни одна операция ядра её не выдаёт.
type Award struct {
	ID   int64
	Name string
}

// Group описывает учебную группу (когорту). Зарезервировано для будущих операций.
type Group struct {
	ID   int64
	Name string
	Code string
}
