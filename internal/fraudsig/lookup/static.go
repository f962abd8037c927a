package lookup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

// Static is an in-memory table, used by tests and by the file lookup kind.
type Static struct {
	m map[string]model.Account
}

func NewStatic(accts ...model.Account) *Static {
	s := &Static{m: make(map[string]model.Account, len(accts))}
	for _, a := range accts {
		s.m[a.AccountID] = a
	}
	return s
}

// LoadFile reads one JSON account object per line. Blank lines and lines
// starting with # are skipped.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := NewStatic()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var a model.Account
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return nil, fmt.Errorf("lookup: %s:%d: %w", path, line, err)
		}
		if a.AccountID == "" {
			return nil, fmt.Errorf("lookup: %s:%d: missing account_id", path, line)
		}
		s.m[a.AccountID] = a
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Static) Get(ctx context.Context, id string) (model.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, false, err
	}
	a, ok := s.m[id]
	return a, ok, nil
}

func (s *Static) Len() int { return len(s.m) }

func (s *Static) Close() error { return nil }
