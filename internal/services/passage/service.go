package passage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/storage"
)

// DefaultPassages is used when no passage file is configured
var DefaultPassages = []string{
	"The quick brown fox jumps over the lazy dog while the farmer watches from the porch.",
	"Typing quickly is a skill that rewards patience, rhythm, and a steady pair of hands.",
	"A journey of a thousand miles begins with a single step, and so does every race.",
	"Never underestimate the power of a good night's sleep before an important morning.",
	"The river carved its way through the valley over thousands of quiet years.",
	"She packed her bags, locked the door, and walked to the station without looking back.",
	"Good software is written twice: once to understand the problem and once to solve it.",
	"The lighthouse keeper counted the ships that passed until the fog rolled in again.",
}

// Service supplies the shared race texts. Passages live in storage so every
// server process draws from the same pool.
type Service struct {
	storage storage.Storage
	random  random.Random
}

// New creates a new passage service
func New(storage storage.Storage, random random.Random) *Service {
	return &Service{
		storage: storage,
		random:  random,
	}
}

// Load populates storage from path, or seeds the default passages when path
// is empty and storage holds none yet
func (s *Service) Load(ctx context.Context, path string) error {
	if path != "" {
		return s.LoadFromFile(ctx, path)
	}

	_, err := s.storage.GetPassages(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNoPassages) {
		return err
	}
	return s.LoadPassages(ctx, DefaultPassages)
}

// LoadFromFile loads passages from a file (one passage per line)
func (s *Service) LoadFromFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var passages []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			passages = append(passages, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return s.LoadPassages(ctx, passages)
}

// LoadPassages replaces the stored passages
func (s *Service) LoadPassages(ctx context.Context, passages []string) error {
	if len(passages) == 0 {
		return model.ErrNoPassages
	}
	return s.storage.SavePassages(ctx, passages)
}

// Pick returns a passage chosen uniformly at random
func (s *Service) Pick(ctx context.Context) (string, error) {
	passages, err := s.storage.GetPassages(ctx)
	if err != nil {
		return "", err
	}
	if len(passages) == 0 {
		return "", model.ErrNoPassages
	}

	// Stored sets have no order; sort so a given index is stable
	sort.Strings(passages)
	return passages[s.random.Intn(len(passages))], nil
}
