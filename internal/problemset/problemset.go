package problemset

import (
	"context"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/codeduel/duel-backend/internal/models"
)

//go:embed problems.yaml
var defaultFiles embed.FS

// Upserter 문제 저장소 (repository.ProblemRepository)
type Upserter interface {
	Upsert(ctx context.Context, problem *models.Problem) error
}

type document struct {
	Problems []*models.Problem `yaml:"problems"`
}

// Default 내장된 기본 문제 목록
func Default() ([]*models.Problem, error) {
	f, err := defaultFiles.Open("problems.yaml")
	if err != nil {
		return nil, fmt.Errorf("open embedded problems: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadFile path 가 비어 있으면 내장 목록
func LoadFile(path string) ([]*models.Problem, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open problem file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse YAML 문서를 읽고 검증. id 중복, 빈 토픽, 0 이하 레이팅은 거부
func Parse(r io.Reader) ([]*models.Problem, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode problems: %w", err)
	}

	seen := make(map[string]bool, len(doc.Problems))
	for i, p := range doc.Problems {
		p.ID = strings.TrimSpace(p.ID)
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("problem #%d: missing id", i+1)
		case seen[p.ID]:
			return nil, fmt.Errorf("problem %s: duplicate id", p.ID)
		case p.Rating <= 0:
			return nil, fmt.Errorf("problem %s: rating must be positive", p.ID)
		case len(p.Topics) == 0:
			return nil, fmt.Errorf("problem %s: at least one topic required", p.ID)
		}
		if p.Title == "" {
			p.Title = p.ID
		}
		seen[p.ID] = true
	}
	return doc.Problems, nil
}

// Seed 모든 문제를 저장소에 반영. 반영된 개수 반환
func Seed(ctx context.Context, store Upserter, problems []*models.Problem) (int, error) {
	for i, p := range problems {
		if err := store.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	return len(problems), nil
}
