package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/retry"
)

// ESSink indexes candidates into a search index with the candidate id as
// document id, so a republished pair overwrites instead of duplicating.
type ESSink struct {
	es    *elasticsearch.Client
	index string
}

func NewESSink(ctx context.Context, addresses []string, username, password, index string) (*ESSink, error) {
	if index == "" {
		return nil, errors.New("emit: es index is empty")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("emit: es client: %w", err)
	}
	res, err := es.Info(es.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("emit: es info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("emit: es info: %s", res.String())
	}
	return &ESSink{es: es, index: index}, nil
}

func (s *ESSink) Publish(ctx context.Context, c model.FraudCandidate) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(c); err != nil {
		return retry.Permanent(err)
	}
	res, err := s.es.Index(
		s.index,
		&buf,
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(c.CandidateID),
	)
	if err != nil {
		return fmt.Errorf("emit: es index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("emit: es index: [%s] %s", res.Status(), bytes.TrimSpace(body))
		return classifyStatus(res.StatusCode, err)
	}
	return nil
}

// classifyStatus marks client errors permanent except throttling and conflicts.
func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusConflict, code >= 500:
		return err
	case code >= 400:
		return retry.Permanent(err)
	}
	return err
}

func (s *ESSink) Close() error { return nil }
